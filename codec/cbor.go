package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes with Core Deterministic Encoding (RFC 8949 §4.2): the same
// value always yields the same bytes, which snapshot comparisons rely on.
// Timestamps are written as RFC 3339 strings with nanoseconds so replay
// does not truncate them.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds the encoder and decoder modes.
func NewCBOR() (*CBOR, error) {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor decoder: %w", err)
	}

	return &CBOR{enc: enc, dec: dec}, nil
}

// MustCBOR is NewCBOR for package-level initialization.
func MustCBOR() *CBOR {
	c, err := NewCBOR()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
