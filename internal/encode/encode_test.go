package encode

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/fusecache/tensor"
)

func encodeArgs(t *testing.T, args []tensor.Arg) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := Args(enc, args); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func cpu() tensor.Device { return tensor.Device{Kind: tensor.CPU} }

func TestEncodingIsDeterministic(t *testing.T) {
	args := []tensor.Arg{
		tensor.TensorArg(tensor.New(tensor.Float32, cpu(), 2, 3)),
		tensor.ScalarArg(1.5),
		tensor.ConstArg(int64(7)),
	}
	if !bytes.Equal(encodeArgs(t, args), encodeArgs(t, args)) {
		t.Fatal("same arguments encoded differently")
	}
}

func TestEncodingSeparatesConfigurations(t *testing.T) {
	base := []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float32, cpu(), 2, 3))}
	baseEnc := encodeArgs(t, base)

	strided := tensor.New(tensor.Float32, cpu(), 2, 3).AsStrided([]int64{2, 3}, []int64{4, 1})
	cases := []struct {
		name string
		args []tensor.Arg
	}{
		{"extents", []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float32, cpu(), 3, 2))}},
		{"strides only", []tensor.Arg{tensor.TensorArg(strided)}},
		{"dtype", []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float64, cpu(), 2, 3))}},
		{"device", []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float32, tensor.Device{Kind: tensor.CUDA, Ordinal: 1}, 2, 3))}},
		{"extra scalar", []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float32, cpu(), 2, 3)), tensor.ScalarArg(int64(1))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if bytes.Equal(baseEnc, encodeArgs(t, tc.args)) {
				t.Fatal("distinct configuration collided")
			}
		})
	}
}

func TestScalarSpecialization(t *testing.T) {
	// Runtime scalars keep their value out of the identity.
	a := encodeArgs(t, []tensor.Arg{tensor.ScalarArg(1.0)})
	b := encodeArgs(t, []tensor.Arg{tensor.ScalarArg(2.0)})
	if !bytes.Equal(a, b) {
		t.Fatal("runtime scalar value leaked into encoding")
	}

	// Specializing scalars bake it in.
	c := encodeArgs(t, []tensor.Arg{tensor.ConstArg(1.0)})
	d := encodeArgs(t, []tensor.Arg{tensor.ConstArg(2.0)})
	if bytes.Equal(c, d) {
		t.Fatal("specializing scalar values collided")
	}

	// And the two scalar flavors never collide with each other.
	if bytes.Equal(a, c) {
		t.Fatal("runtime and specializing scalar collided")
	}
}

func TestScalarKinds(t *testing.T) {
	ints := encodeArgs(t, []tensor.Arg{tensor.ConstArg(int64(1))})
	floats := encodeArgs(t, []tensor.Arg{tensor.ConstArg(1.0)})
	bools := encodeArgs(t, []tensor.Arg{tensor.ConstArg(true)})
	if bytes.Equal(ints, floats) || bytes.Equal(ints, bools) || bytes.Equal(floats, bools) {
		t.Fatal("scalar kinds collided")
	}
}

func TestEncoderReuseWithReset(t *testing.T) {
	// The identity cache reuses one encoder over a shared scratch buffer.
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	args := []tensor.Arg{tensor.TensorArg(tensor.New(tensor.Float32, cpu(), 4))}
	if err := Args(enc, args); err != nil {
		t.Fatalf("first encode: %v", err)
	}
	first := append([]byte(nil), buf.Bytes()...)

	buf.Reset()
	enc.Reset(&buf)
	if err := Args(enc, args); err != nil {
		t.Fatalf("second encode: %v", err)
	}
	if !bytes.Equal(first, buf.Bytes()) {
		t.Fatal("reset encoder produced different bytes")
	}
}
