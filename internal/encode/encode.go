// Package encode produces the canonical byte form of an input configuration.
// The bytes live only in memory as identity-cache map keys and are never
// decoded, so the format needs stability within a process, not across
// versions or processes.
package encode

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/fusecache/tensor"
)

// Argument tags. tagScalar marks a runtime scalar whose value stays outside
// the identity; tagConst a specializing scalar whose value is part of it.
const (
	tagTensor uint8 = 1
	tagScalar uint8 = 2
	tagConst  uint8 = 3
)

// Args streams the canonical encoding of args into enc. Tensor arguments
// contribute dtype, device and raw sizes and strides; raw strides (rather
// than a derived layout summary) keep distinct contiguity and overlap
// patterns from colliding on one identity. Scalars contribute their value
// only when specializing.
func Args(enc *msgpack.Encoder, args []tensor.Arg) error {
	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if a.IsTensor() {
			if err := tensorArg(enc, a.Tensor().Meta()); err != nil {
				return err
			}
			continue
		}
		if err := scalarArg(enc, a.Scalar()); err != nil {
			return err
		}
	}
	return nil
}

func tensorArg(enc *msgpack.Encoder, m tensor.Meta) error {
	if err := enc.EncodeUint8(tagTensor); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(m.DType)); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(m.Device.Kind)); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(m.Device.Ordinal)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(m.Sizes)); err != nil {
		return err
	}
	for _, s := range m.Sizes {
		if err := enc.EncodeInt(s); err != nil {
			return err
		}
	}
	if err := enc.EncodeArrayLen(len(m.Strides)); err != nil {
		return err
	}
	for _, s := range m.Strides {
		if err := enc.EncodeInt(s); err != nil {
			return err
		}
	}
	return nil
}

func scalarArg(enc *msgpack.Encoder, s tensor.Scalar) error {
	if !s.Specialize {
		if err := enc.EncodeUint8(tagScalar); err != nil {
			return err
		}
		return enc.EncodeNil()
	}
	if err := enc.EncodeUint8(tagConst); err != nil {
		return err
	}
	switch v := s.Value.(type) {
	case int64:
		return enc.EncodeInt(v)
	case float64:
		return enc.EncodeFloat64(v)
	case bool:
		return enc.EncodeBool(v)
	default:
		return fmt.Errorf("encode: unsupported scalar type %T", s.Value)
	}
}
