package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// IsCompressed reports whether key names a compressed object.
func IsCompressed(key string) bool {
	return strings.HasSuffix(key, ".gz") || strings.HasSuffix(key, ".zst")
}

// Decompress wraps r in a decompressor chosen by the key's extension.
// Closing the result closes r.
func Decompress(key string, r io.ReadCloser) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(key, ".gz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", key, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, r.Close}}, nil

	case strings.HasSuffix(key, ".zst"):
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", key, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			r.Close,
		}}, nil

	default:
		return r, nil
	}
}

type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
