package sched

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/unkn0wn-root/fusecache/tensor"
)

// TensorSig is the compilation-relevant shape of one tensor input: everything
// a scheduling decision may depend on except the concrete extents themselves.
type TensorSig struct {
	Rank      int    `cbor:"r"`
	DType     uint8  `cbor:"t"`
	Broadcast []bool `cbor:"b"`
	Order     []int  `cbor:"o"`
	Contig    []bool `cbor:"c"`
}

// Class is the specialization class of an input configuration. Two argument
// lists of the same fusion with equal classes may share one compiled plan, at
// most modulo launch shape. Consts holds one slot per scalar argument: the
// concrete value for specializing scalars, nil for runtime scalars.
type Class struct {
	Tensors []TensorSig `cbor:"tensors"`
	Consts  []any       `cbor:"consts"`
}

// ClassOf derives the class of an argument list.
func ClassOf(args []tensor.Arg) Class {
	var c Class
	for _, a := range args {
		if a.IsTensor() {
			m := a.Tensor().Meta()
			c.Tensors = append(c.Tensors, TensorSig{
				Rank:      m.Rank(),
				DType:     uint8(m.DType),
				Broadcast: m.Broadcast(),
				Order:     m.StrideOrder(),
				Contig:    m.Contiguity(),
			})
			continue
		}
		s := a.Scalar()
		if s.Specialize {
			c.Consts = append(c.Consts, s.Value)
		} else {
			c.Consts = append(c.Consts, nil)
		}
	}
	return c
}

// classEnc uses RFC 8949 Core Deterministic encoding so equal classes always
// marshal to identical bytes; the bytes double as the plan-grouping map key.
var classEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("sched: cbor encoder init: %v", err))
	}
	return em
}()

// Key returns the canonical byte form of the class.
func (c Class) Key() string {
	b, err := classEnc.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("sched: class encoding: %v", err))
	}
	return string(b)
}

// Equal reports whether two classes are identical.
func (c Class) Equal(o Class) bool { return c.Key() == o.Key() }
