package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MaxFrameSize bounds a decompressed boundary frame.
const MaxFrameSize = 256 * 1024 * 1024

// Open reads a whole boundary frame from r. Frames that start with the zstd
// magic are decompressed; anything else is returned as is.
func Open(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return nil, &DeserializationError{Value: "frame", Offset: MaxFrameSize, Err: ErrTooLarge}
	}
	if !IsCompressed(raw) {
		return raw, nil
	}
	return decompress(raw)
}

// Seal prepares payload for the boundary, optionally zstd-compressing it.
func Seal(payload []byte, compress bool) ([]byte, error) {
	if !compress {
		return payload, nil
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// decompress inflates a zstd frame with a single decoder goroutine so the
// replay stays free of background work.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxFrameSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &DeserializationError{Value: "frame", Err: fmt.Errorf("zstd: %w", err)}
	}
	return out, nil
}
