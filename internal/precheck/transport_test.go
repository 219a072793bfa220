package precheck

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

const plainBody = "<html><head><title>status</title></head><body>all good</body></html>"

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func flateBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = fw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func encodedServer(t *testing.T, encoding string, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoding != "" {
			w.Header().Set("Content-Encoding", encoding)
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, url string) *http.Response {
	t.Helper()
	client := &http.Client{Transport: newDecodingTransport(nil)}
	t.Cleanup(client.CloseIdleConnections)
	resp, err := client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestDecodingTransport(t *testing.T) {
	t.Run("gzip", func(t *testing.T) {
		srv := encodedServer(t, "gzip", gzipBytes(t, plainBody))

		// Two rounds so a pooled reader gets reset and reused.
		for i := 0; i < 2; i++ {
			resp := fetch(t, srv.URL)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, plainBody, string(body))
			assert.True(t, resp.Uncompressed)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Equal(t, int64(-1), resp.ContentLength)
			require.NoError(t, resp.Body.Close())
		}
	})

	t.Run("brotli", func(t *testing.T) {
		srv := encodedServer(t, "br", brotliBytes(t, plainBody))
		resp := fetch(t, srv.URL)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("deflate zlib stream", func(t *testing.T) {
		srv := encodedServer(t, "deflate", zlibBytes(t, plainBody))
		resp := fetch(t, srv.URL)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("deflate raw stream", func(t *testing.T) {
		srv := encodedServer(t, "deflate", flateBytes(t, plainBody))
		resp := fetch(t, srv.URL)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("layered encodings decode in reverse", func(t *testing.T) {
		inner := flateBytes(t, plainBody)
		payload := gzipBytes(t, string(inner))
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Content-Encoding", "deflate")
			w.Header().Add("Content-Encoding", "gzip")
			_, _ = w.Write(payload)
		}))
		t.Cleanup(srv.Close)

		resp := fetch(t, srv.URL)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("identity passthrough", func(t *testing.T) {
		srv := encodedServer(t, "", []byte(plainBody))
		resp := fetch(t, srv.URL)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("unsupported encoding is an error", func(t *testing.T) {
		srv := encodedServer(t, "zstd", []byte{0x00, 0x01})
		client := &http.Client{Transport: newDecodingTransport(nil)}
		t.Cleanup(client.CloseIdleConnections)

		resp, err := client.Get(srv.URL) //nolint:bodyclose // no response on error
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Contains(t, err.Error(), "zstd")
	})

	t.Run("negotiates compression", func(t *testing.T) {
		var accepted string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accepted = r.Header.Get("Accept-Encoding")
		}))
		t.Cleanup(srv.Close)

		resp := fetch(t, srv.URL)
		_ = resp.Body.Close()
		assert.Equal(t, "br, gzip, deflate, identity", accepted)
	})

	t.Run("corrupt gzip body is an error", func(t *testing.T) {
		srv := encodedServer(t, "gzip", []byte("definitely not gzip"))
		client := &http.Client{Transport: newDecodingTransport(nil)}
		t.Cleanup(client.CloseIdleConnections)

		_, err := client.Get(srv.URL) //nolint:bodyclose // no response on error
		require.Error(t, err)
	})
}

func TestInflateSniffsZlibHeader(t *testing.T) {
	t.Run("zlib", func(t *testing.T) {
		r := inflate(bytes.NewReader(zlibBytes(t, plainBody)))
		defer r.Close()
		body, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})

	t.Run("raw", func(t *testing.T) {
		r := inflate(bytes.NewReader(flateBytes(t, plainBody)))
		defer r.Close()
		body, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, plainBody, string(body))
	})
}
