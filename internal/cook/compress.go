package cook

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the codec applied to a buffer resource's bytes.
// The value is stored in the buffer descriptor; changing the constants
// breaks cooked data compatibility.
type Compression uint8

const (
	// CompressionNone stores bytes as-is. The right choice for content
	// that is already compressed (PNG, video).
	CompressionNone Compression = 0
	// CompressionLZ4 applies LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd applies zstd at its default level.
	CompressionZstd Compression = 2
)

// String returns the codec's config-file name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the config-file form.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		// EncodeAll/DecodeAll with nil state are goroutine-safe.
		zstdEncoder, _ = zstd.NewWriter(nil)
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder
}

// Compress applies the codec. When the compressed form is not smaller the
// original bytes are stored and CompressionNone is reported, so decoding
// never depends on the requested codec.
func Compress(codec Compression, data []byte) (Compression, []byte, error) {
	switch codec {
	case CompressionNone:
		return CompressionNone, data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return CompressionNone, data, nil
		}
		return CompressionLZ4, dst[:n], nil
	case CompressionZstd:
		encoder, _ := zstdCodecs()
		out := encoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return CompressionNone, data, nil
		}
		return CompressionZstd, out, nil
	default:
		return 0, nil, fmt.Errorf("unknown compression %d", codec)
	}
}

// Decompress reverses Compress. uncompressedSize must come from the buffer
// descriptor; LZ4 block decoding needs the exact output size.
func Decompress(codec Compression, data []byte, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return dst[:n], nil
	case CompressionZstd:
		_, decoder := zstdCodecs()
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", codec)
	}
}
