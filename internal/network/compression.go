// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptyReader = strings.NewReader("")
)

// CompressionMiddleware advertises br/gzip/deflate support and transparently
// decodes whatever the portal sends back. Government portals sit behind a mix
// of proxies and not all of them agree on encodings.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// decodedBody closes the decoder and the wire body together and recycles pooled readers.
type decodedBody struct {
	io.ReadCloser
	wire    io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.wire.Close())
}

// DecompressResponse replaces resp.Body with a decoding reader for every
// Content-Encoding layer, innermost last. On error the body is unusable and
// the caller must close it.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	var layers []string
	for _, v := range encodings {
		layers = append(layers, strings.Split(v, ",")...)
	}
	for i := len(layers) - 1; i >= 0; i-- {
		if err := decodeLayer(resp, strings.ToLower(strings.TrimSpace(layers[i]))); err != nil {
			return err
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func decodeLayer(resp *http.Response, encoding string) error {
	var (
		reader  io.ReadCloser
		release func()
	)

	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip initialization error: %w", err)
		}
		reader = zr
		release = func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliReaderPool.Put(br)
			return fmt.Errorf("brotli initialization error: %w", err)
		}
		reader = io.NopCloser(br)
		release = func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}

	case "deflate":
		reader = inflate(resp.Body)

	case "identity", "":
		return nil

	default:
		return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}

	resp.Body = &decodedBody{ReadCloser: reader, wire: resp.Body, release: release}
	return nil
}

// inflate decodes zlib-wrapped deflate, falling back to raw deflate when the
// zlib header is missing (some servers send either under the same name).
func inflate(r io.Reader) io.ReadCloser {
	var head bytes.Buffer
	zr, err := zlib.NewReader(io.TeeReader(r, &head))
	if err == nil {
		return zr
	}
	return flate.NewReader(io.MultiReader(&head, r))
}
