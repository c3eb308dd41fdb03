package ffi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSignatureRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		sig  Signature
	}{
		{name: "void no args", sig: Signature{Return: KindVoid}},
		{name: "i32 arity 1", sig: Signature{Args: []Kind{KindI32}, Return: KindVoid}},
		{name: "pointer and i32 returning i32", sig: Signature{Args: []Kind{KindPointer, KindI32}, Return: KindI32}},
		{name: "mixed arity", sig: Signature{Args: []Kind{KindI32, KindI64, KindPointer, KindF32, KindF64}, Return: KindI64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeSignature(tt.sig)
			decoded, err := DecodeSignature(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.sig, decoded)
		})
	}
}

func TestDecodeSignatureMalformed(t *testing.T) {
	_, err := DecodeSignature("ii")
	assert.Error(t, err, "missing ')' separator")

	_, err = DecodeSignature("iz)i")
	assert.Error(t, err, "unknown argument letter")

	_, err = DecodeSignature("i)z")
	assert.Error(t, err, "unknown return letter")
}
