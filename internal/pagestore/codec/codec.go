// Package codec compresses page bytes before they reach local media.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec encodes pages for storage and decodes them back.
type Codec interface {
	Name() string
	Encode(page []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// New returns the codec registered under name: "none" (or ""), "lz4" or "zstd".
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None{}, nil
	case "lz4":
		return LZ4{}, nil
	case "zstd":
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("unknown page codec %q", name)
	}
}

// None stores pages as-is.
type None struct{}

func (None) Name() string                         { return "none" }
func (None) Encode(page []byte) ([]byte, error)   { return page, nil }
func (None) Decode(stored []byte) ([]byte, error) { return stored, nil }

// Header layout: [uncompressed size uint32][compressed size uint32][data].
// A compressed size of 0 marks a page stored uncompressed.
const headerSize = 8

var errShortPage = errors.New("stored page too small for header")

func frame(page, compressed []byte) []byte {
	// Keep the raw bytes when compression saves less than 10%.
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(page))*0.9 {
		out := make([]byte, headerSize+len(page))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(page)))
		copy(out[headerSize:], page)
		return out
	}

	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(page)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out
}

// unframe returns the payload and whether it is compressed.
func unframe(stored []byte) (payload []byte, size uint32, compressed bool, err error) {
	if len(stored) < headerSize {
		return nil, 0, false, errShortPage
	}
	size = binary.LittleEndian.Uint32(stored[0:])
	csize := binary.LittleEndian.Uint32(stored[4:])

	if csize == 0 {
		if uint32(len(stored)) < headerSize+size {
			return nil, 0, false, errors.New("stored page truncated")
		}
		return stored[headerSize : headerSize+size], size, false, nil
	}
	if uint32(len(stored)) < headerSize+csize {
		return nil, 0, false, errors.New("compressed page truncated")
	}
	return stored[headerSize : headerSize+csize], size, true, nil
}

// LZ4 uses LZ4 block compression.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Encode(page []byte) ([]byte, error) {
	if len(page) == 0 {
		return frame(page, nil), nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(page)))
	n, err := lz4.CompressBlock(page, buf, nil)
	if err != nil {
		return nil, err
	}
	return frame(page, buf[:n]), nil
}

func (LZ4) Decode(stored []byte) ([]byte, error) {
	payload, size, compressed, err := unframe(stored)
	if err != nil || !compressed {
		return payload, err
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, err
	}
	if uint32(n) != size {
		return nil, errors.New("decompressed size mismatch")
	}
	return out, nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Zstd uses zstd compression at the default level.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

func (Zstd) Encode(page []byte) ([]byte, error) {
	if len(page) == 0 {
		return frame(page, nil), nil
	}
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)

	return frame(page, enc.EncodeAll(page, nil)), nil
}

func (Zstd) Decode(stored []byte) ([]byte, error) {
	payload, size, compressed, err := unframe(stored)
	if err != nil || !compressed {
		return payload, err
	}
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	defer zstdDecoderPool.Put(dec)

	out, err := dec.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, err
	}
	if uint32(len(out)) != size {
		return nil, errors.New("decompressed size mismatch")
	}
	return out, nil
}
