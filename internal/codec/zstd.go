// Package codec holds the zstd framing shared by the cache and the report
// archive.
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				// Cannot fail with nil input and these options.
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
)

// Compress returns the zstd encoding of data. EncodeAll is safe for
// concurrent use, so one encoder is shared.
func Compress(data []byte) []byte {
	encoderOnce.Do(func() {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		encoder = e
	})
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress reverses Compress using a pooled decoder.
func Decompress(data []byte) ([]byte, error) {
	decoder := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
