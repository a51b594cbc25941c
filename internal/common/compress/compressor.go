package compress

import (
	"bytes"
	"compress/gzip"

	"github.com/pkg/errors"
)

// Compressor is a fast, single threaded compressor.
// This type allows us to reuse buffers etc for performance
type Compressor interface {
	// Compress compresses the byte array
	Compress(b []byte) ([]byte, error)
}

// NoOpCompressor is a Compressor that does nothing.  Useful for tests.
type NoOpCompressor struct{}

func (c *NoOpCompressor) Compress(b []byte) ([]byte, error) {
	return b, nil
}

// GzipCompressor compresses to standard gzip, so its output can be read
// by external tooling as well as by GzipDecompressor
type GzipCompressor struct {
	buffer *bytes.Buffer
	writer *gzip.Writer
}

func NewGzipCompressor() *GzipCompressor {
	var buf bytes.Buffer
	return &GzipCompressor{
		buffer: &buf,
		writer: gzip.NewWriter(&buf),
	}
}

func (c *GzipCompressor) Compress(b []byte) ([]byte, error) {
	c.buffer.Reset()
	c.writer.Reset(c.buffer)
	if _, err := c.writer.Write(b); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.writer.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	// the internal buffer is reused on the next call
	compressed := make([]byte, c.buffer.Len())
	copy(compressed, c.buffer.Bytes())
	return compressed, nil
}
