package decoder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"sort"
)

type headerNamesKey struct{}

// WithHeaderNames attaches the header names of a request, in wire order and
// with their original case, to ctx. FromHTTP uses them instead of the
// canonical keys of r.Header.
func WithHeaderNames(ctx context.Context, names []string) context.Context {
	return context.WithValue(ctx, headerNamesKey{}, names)
}

// HeaderNames returns the names attached by WithHeaderNames.
func HeaderNames(ctx context.Context) ([]string, bool) {
	names, ok := ctx.Value(headerNamesKey{}).([]string)
	return names, ok
}

// FromHTTP converts a server-side *http.Request into an Incoming value.
//
// net/http removes Host from r.Header, so it is added back as a header line.
// Header names keep the case they had on the wire when the connection
// recorded them (see WithHeaderNames); otherwise the canonical form is used.
// The body is read only when Content-Length is known; exactly that many bytes
// are consumed.
func FromHTTP(r *http.Request) (Incoming, error) {
	in := Incoming{
		Method:     r.Method,
		Target:     r.RequestURI,
		RemoteAddr: r.RemoteAddr,
	}
	if in.Target == "" && r.URL != nil {
		in.Target = r.URL.RequestURI()
	}

	if raw, ok := HeaderNames(r.Context()); ok {
		in.Header = rawHeaderLines(r, raw)
	} else {
		in.Header = canonicalHeaderLines(r)
	}

	if r.Body != nil && r.ContentLength > 0 {
		buf := make([]byte, r.ContentLength)
		if _, err := io.ReadFull(r.Body, buf); err != nil {
			return Incoming{}, fmt.Errorf("failed to read request body: %w", err)
		}
		in.Body = buf
	}

	return in, nil
}

func canonicalHeaderLines(r *http.Request) []HeaderLine {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []HeaderLine
	if _, ok := r.Header["Host"]; !ok && r.Host != "" {
		lines = append(lines, HeaderLine{Name: "Host", Value: r.Host})
	}
	for _, name := range names {
		for _, v := range r.Header[name] {
			lines = append(lines, HeaderLine{Name: name, Value: v})
		}
	}
	return lines
}

// rawHeaderLines pairs the wire names with the values net/http parsed. The
// n-th occurrence of a name (in any case) takes the n-th value stored under
// its canonical key.
func rawHeaderLines(r *http.Request, raw []string) []HeaderLine {
	lines := make([]HeaderLine, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for _, name := range raw {
		key := textproto.CanonicalMIMEHeaderKey(name)
		if key == "Host" {
			lines = append(lines, HeaderLine{Name: name, Value: r.Host})
			continue
		}
		values := r.Header[key]
		i := seen[key]
		if i >= len(values) {
			continue
		}
		seen[key] = i + 1
		lines = append(lines, HeaderLine{Name: name, Value: values[i]})
	}
	return lines
}
