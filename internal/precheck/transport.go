package precheck

import (
	"bufio"
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

// Decoder pools keep per-probe allocations down; probes run on every
// visit for the life of the session.
var (
	gzipReaders = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
	brotliReaders = sync.Pool{
		New: func() any { return brotli.NewReader(nil) },
	}
)

// emptySource resets pooled decoders before reuse. gzip.Reader.Reset
// reads a header unconditionally, so it gets an empty stream rather
// than nil. Reads at EOF never mutate the reader, so sharing is safe.
var emptySource = strings.NewReader("")

// decodingTransport negotiates compressed responses and transparently
// decodes brotli, gzip and deflate bodies so callers always read plain
// bytes. Layered encodings are unwrapped in reverse order.
type decodingTransport struct {
	base http.RoundTripper
}

func newDecodingTransport(base http.RoundTripper) *decodingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decodingTransport{base: base}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		// The stream may be partially consumed; it cannot be salvaged.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	return resp, nil
}

// decodedBody closes the decoder and the wrapped network body, and
// returns pooled decoders on Close.
type decodedBody struct {
	io.ReadCloser
	wrapped io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.wrapped.Close())
}

func decodeBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	// Content-Encoding lists layers in order of application; decode in
	// reverse.
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			reader  io.ReadCloser
			release func()
		)
		switch enc := strings.ToLower(strings.TrimSpace(encodings[i])); enc {
		case "gzip":
			zr := gzipReaders.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipReaders.Put(zr)
				return fmt.Errorf("gzip: %w", err)
			}
			reader = zr
			release = func() {
				_ = zr.Reset(emptySource)
				gzipReaders.Put(zr)
			}
		case "br":
			br := brotliReaders.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brotliReaders.Put(br)
				return fmt.Errorf("brotli: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() {
				_ = br.Reset(emptySource)
				brotliReaders.Put(br)
			}
		case "deflate":
			reader = inflate(resp.Body)
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported content encoding %q", enc)
		}

		resp.Body = &decodedBody{ReadCloser: reader, wrapped: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// inflate decodes a "deflate" body. Servers disagree on whether that
// means a zlib stream (RFC 1950) or a raw one (RFC 1951); sniff the
// two-byte zlib header to pick, treating anything else as raw.
func inflate(body io.Reader) io.ReadCloser {
	buffered := bufio.NewReader(body)
	hdr, err := buffered.Peek(2)
	if err == nil && hdr[0]&0x0f == 0x08 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0 {
		if zr, zerr := zlib.NewReader(buffered); zerr == nil {
			return zr
		}
	}
	return flate.NewReader(buffered)
}
