package listener

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sirosfoundation/go-http-capture/internal/decoder"
)

// maxRecordedHead bounds the bytes buffered while looking for the end of a
// request head. Matches what net/http accepts by default.
const maxRecordedHead = http.DefaultMaxHeaderBytes + 4096

// rawHead is the request line and header names of one request as sent
type rawHead struct {
	method string
	target string
	names  []string
}

// recordingListener wraps every accepted connection in a headerRecorder
type recordingListener struct {
	net.Listener
}

func (l recordingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &headerRecorder{Conn: c}, nil
}

// headerRecorder tees the bytes net/http reads and keeps the header names of
// each request head with their original case. Request bodies are skipped by
// Content-Length; a connection using any other framing stops being recorded
// and its requests fall back to canonical names.
type headerRecorder struct {
	net.Conn

	mu    sync.Mutex
	buf   []byte
	skip  int64
	lost  bool
	heads []rawHead
}

func (c *headerRecorder) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.observe(p[:n])
	}
	return n, err
}

// CloseWrite keeps net/http's half-close working through the wrapper
func (c *headerRecorder) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *headerRecorder) observe(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(data) > 0 && !c.lost {
		if c.skip > 0 {
			n := min(c.skip, int64(len(data)))
			c.skip -= n
			data = data[n:]
			continue
		}

		c.buf = append(c.buf, data...)
		data = nil

		// net/http tolerates empty lines before a request line
		c.buf = bytes.TrimLeft(c.buf, "\r\n")

		end, sep := headEnd(c.buf)
		if end < 0 {
			if len(c.buf) > maxRecordedHead {
				c.lost = true
			}
			return
		}

		head := c.buf[:end]
		rest := append([]byte(nil), c.buf[end+sep:]...)
		c.buf = nil

		h, bodyLen, ok := parseHead(head)
		if !ok {
			c.lost = true
			return
		}
		c.heads = append(c.heads, h)
		c.skip = bodyLen
		data = rest
	}
}

// next returns the recorded names for the request with the given request
// line. Heads that do not match are requests net/http never dispatched.
func (c *headerRecorder) next(method, target string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.heads) > 0 {
		h := c.heads[0]
		c.heads = c.heads[1:]
		if h.method == method && h.target == target {
			return h.names, true
		}
	}
	return nil, false
}

// headEnd finds the blank line closing a request head and the length of
// that terminator.
func headEnd(buf []byte) (int, int) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return crlf, 4
	case lf >= 0:
		return lf, 2
	default:
		return -1, 0
	}
}

// parseHead extracts the request line, the header names and the body length
// of a request head. ok is false when the body framing cannot be followed.
func parseHead(head []byte) (h rawHead, bodyLen int64, ok bool) {
	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return rawHead{}, 0, false
	}
	h.method, h.target = parts[0], parts[1]

	for _, line := range lines[1:] {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		h.names = append(h.names, name)

		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || n < 0 {
				return rawHead{}, 0, false
			}
			bodyLen = n
		case strings.EqualFold(name, "Transfer-Encoding"):
			return rawHead{}, 0, false
		}
	}
	return h, bodyLen, true
}

type recorderKey struct{}

// connContext makes the connection's recorder reachable from its requests
func connContext(ctx context.Context, c net.Conn) context.Context {
	if hr, ok := c.(*headerRecorder); ok {
		return context.WithValue(ctx, recorderKey{}, hr)
	}
	return ctx
}

// withRawHeaders hands the wire header names of each request to the decoder
func withRawHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hr, ok := r.Context().Value(recorderKey{}).(*headerRecorder); ok {
			if names, ok := hr.next(r.Method, r.RequestURI); ok {
				r = r.WithContext(decoder.WithHeaderNames(r.Context(), names))
			}
		}
		next.ServeHTTP(w, r)
	})
}
