package impex

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedExt marks zstd compressed dump files
const CompressedExt = ".zst"

// IsCompressed reports whether path names a zstd compressed file
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

// NewCompressedWriter returns a writer that zstd compresses into w.
// Closing it flushes the frame but does not close w.
func NewCompressedWriter(w io.Writer, level int) (io.WriteCloser, error) {
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return enc, nil
}

// NewDecompressedReader returns a reader of the zstd stream r
func NewDecompressedReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}
