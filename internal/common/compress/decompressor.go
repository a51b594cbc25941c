package compress

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// Decompressor is a fast, single threaded decompressor.
// This type allows us to reuse buffers etc for performance
type Decompressor interface {
	// Decompress decompresses the byte array
	Decompress(b []byte) ([]byte, error)
}

// NoOpDecompressor is a Decompressor that does nothing.  Useful for tests.
type NoOpDecompressor struct{}

func (c *NoOpDecompressor) Decompress(b []byte) ([]byte, error) {
	return b, nil
}

// GzipDecompressor decompresses gzip
type GzipDecompressor struct {
	outputBuffer *bytes.Buffer
	reader       *gzip.Reader
}

func NewGzipDecompressor() *GzipDecompressor {
	var ob bytes.Buffer
	return &GzipDecompressor{
		outputBuffer: &ob,
	}
}

// Decompress returns a slice backed by an internal buffer, valid until the next call.
func (d *GzipDecompressor) Decompress(b []byte) ([]byte, error) {
	inputBuffer := bytes.NewBuffer(b)
	if d.reader == nil {
		reader, err := gzip.NewReader(inputBuffer)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		d.reader = reader
	} else {
		if err := d.reader.Reset(inputBuffer); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	d.outputBuffer.Reset()

	// Decompress
	_, err := io.Copy(d.outputBuffer, d.reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	decompressed := d.outputBuffer.Bytes()
	return decompressed, nil
}

// ThreadSafeGzipDecompressor provides a thread safe decompressor, at the cost of instantiating a new
// GzipDecompressor for each Decompress call
type ThreadSafeGzipDecompressor struct{}

func NewThreadSafeGzipDecompressor() *ThreadSafeGzipDecompressor {
	return &ThreadSafeGzipDecompressor{}
}

func (d *ThreadSafeGzipDecompressor) Decompress(b []byte) ([]byte, error) {
	decompressor := NewGzipDecompressor()
	decompressed, err := decompressor.Decompress(b)
	if err != nil {
		return nil, err
	}
	return decompressed, nil
}
