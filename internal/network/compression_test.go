// File: internal/network/compression_test.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><head><meta content="csrf-123" name="csrf-token"></head><body>login</body></html>`

// -- Test Helpers --

func encode(t *testing.T, encoding string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "raw-deflate":
		w, err = flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
	default:
		t.Fatalf("unknown encoding %s", encoding)
	}
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// -- Test Cases --

func TestCompressionMiddleware_DecodesEncodings(t *testing.T) {
	cases := []struct {
		name   string
		header string
		wire   string
	}{
		{"brotli", "br", "br"},
		{"gzip", "gzip", "gzip"},
		{"zlib deflate", "deflate", "zlib"},
		{"raw deflate", "deflate", "raw-deflate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := encode(t, tc.wire, []byte(loginPage))
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
				w.Header().Set("Content-Encoding", tc.header)
				_, _ = w.Write(payload)
			}))
			defer server.Close()

			client := &http.Client{Transport: NewCompressionMiddleware(&http.Transport{DisableCompression: true})}
			resp, err := client.Get(server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, loginPage, string(body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.True(t, resp.Uncompressed)
		})
	}
}

func TestDecompressResponse_LayeredEncodings(t *testing.T) {
	inner := encode(t, "zlib", []byte(loginPage))
	outer := encode(t, "gzip", inner)

	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"deflate, gzip"}},
		Body:   io.NopCloser(bytes.NewReader(outer)),
	}
	require.NoError(t, DecompressResponse(resp))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, loginPage, string(body))
	assert.NoError(t, resp.Body.Close())
}

func TestDecompressResponse_Errors(t *testing.T) {
	t.Run("unsupported encoding", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"compress"}},
			Body:   io.NopCloser(bytes.NewReader([]byte("x"))),
		}
		assert.ErrorContains(t, DecompressResponse(resp), "unsupported")
	})

	t.Run("corrupt gzip header", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"gzip"}},
			Body:   io.NopCloser(bytes.NewReader([]byte("not gzip at all"))),
		}
		assert.ErrorContains(t, DecompressResponse(resp), "gzip")
	})

	t.Run("identity is a no-op", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Content-Encoding": []string{"identity"}},
			Body:   io.NopCloser(bytes.NewReader([]byte(loginPage))),
		}
		require.NoError(t, DecompressResponse(resp))
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, loginPage, string(body))
	})
}
