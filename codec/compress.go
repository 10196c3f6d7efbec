package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the block algorithm stored in the frame header.
// Values are persisted and must not be renumbered.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// maxFrameSize bounds the declared uncompressed size of a frame.
const maxFrameSize = 64 << 20

var errIncompressible = errors.New("incompressible")

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a configured algorithm name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("codec: unknown compression %q", name)
	}
}

// Serializer is the subset of eventstore.Serializer the wrapper needs.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Compressed wraps a Serializer and compresses its output.
//
// Frame layout: 1 byte algorithm, uvarint uncompressed length, body.
// Payloads that do not shrink are stored with CompressionNone, and frames
// written with any algorithm are readable whatever the configured one is.
type Compressed struct {
	inner Serializer
	algo  Compression
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewCompressed wraps inner with algo.
func NewCompressed(inner Serializer, algo Compression) (*Compressed, error) {
	if inner == nil {
		return nil, errors.New("codec: inner serializer is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	return &Compressed{inner: inner, algo: algo, enc: enc, dec: dec}, nil
}

func (c *Compressed) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}

	algo := c.algo
	body, err := c.compress(raw, algo)
	if errors.Is(err, errIncompressible) {
		algo, body, err = CompressionNone, raw, nil
	}
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 1, 1+binary.MaxVarintLen64+len(body))
	frame[0] = byte(algo)
	frame = binary.AppendUvarint(frame, uint64(len(raw)))
	return append(frame, body...), nil
}

func (c *Compressed) Unmarshal(data []byte, v any) error {
	if len(data) < 2 {
		return errors.New("codec: frame too short")
	}
	algo := Compression(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 || size > maxFrameSize {
		return errors.New("codec: bad frame length")
	}
	raw, err := c.decompress(data[1+n:], algo, int(size))
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

func (c *Compressed) compress(data []byte, algo Compression) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case CompressionZstd:
		out := c.enc.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %d", algo)
	}
}

func (c *Compressed) decompress(body []byte, algo Compression, size int) ([]byte, error) {
	switch algo {
	case CompressionNone:
		if len(body) != size {
			return nil, fmt.Errorf("codec: stored frame size %d, expected %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := c.dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression %d", algo)
	}
}
