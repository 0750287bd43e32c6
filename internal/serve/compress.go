// Body compression. Whole bodies are compressed in one shot before
// caching; streamed bodies go through a pipelined compressor writing
// directly into the response. Levels favor speed: the artifact cache
// amortizes whole-body compression, and streaming must keep up with the
// disk.
package serve

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// compressBytes returns data encoded with enc. enc must not be identity.
func compressBytes(enc Encoding, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newCompressor(enc, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newCompressor returns a streaming compressor for enc writing into sink.
func newCompressor(enc Encoding, sink io.Writer) (io.WriteCloser, error) {
	switch enc {
	case EncGzip:
		return gzip.NewWriterLevel(sink, gzip.BestSpeed)
	case EncDeflate:
		return flate.NewWriter(sink, flate.BestSpeed)
	case EncBrotli:
		return brotli.NewWriterLevel(sink, 1), nil
	default:
		return nil, fmt.Errorf("no compressor for encoding %d", enc)
	}
}
