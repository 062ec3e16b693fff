//go:build benchmark

package codec

import (
	"testing"
)

const benchPageSize = 64 << 10

func BenchmarkCodecs(b *testing.B) {
	compressible := make([]byte, benchPageSize)
	for i := range compressible {
		compressible[i] = byte(i % 17)
	}

	for _, c := range []Codec{None{}, LZ4{}, Zstd{}} {
		b.Run("encode-"+c.Name(), func(b *testing.B) {
			b.SetBytes(benchPageSize)
			for i := 0; i < b.N; i++ {
				if _, err := c.Encode(compressible); err != nil {
					b.Fatal(err)
				}
			}
		})

		stored, err := c.Encode(compressible)
		if err != nil {
			b.Fatal(err)
		}
		b.Run("decode-"+c.Name(), func(b *testing.B) {
			b.SetBytes(benchPageSize)
			for i := 0; i < b.N; i++ {
				if _, err := c.Decode(stored); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
