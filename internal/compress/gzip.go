package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor turns a plaintext dump stream into a gzip stream without
// ever holding the whole payload in memory.
type GzipCompressor struct {
	level int
}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.BestCompression}
}

// Compress returns a reader producing the gzip encoding of r. Encoding runs
// in a goroutine; any read or encode failure surfaces as the returned
// reader's error.
func (c *GzipCompressor) Compress(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		gw, err := gzip.NewWriterLevel(pw, c.level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := io.Copy(gw, r); err != nil {
			gw.Close()
			pw.CloseWithError(err)
			return
		}

		if err := gw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.Close()
	}()

	return pr
}

func (c *GzipCompressor) Extension() string {
	return ".gz"
}
