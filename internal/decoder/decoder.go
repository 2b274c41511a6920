// Package decoder turns raw HTTP requests into domain.CapturedRequest values.
//
// It is split into two layers:
//   - DecodeBody: content-type dispatched body parsing (urlencoded,
//     simple multipart text fields, raw passthrough)
//   - Decode: path, query string, header and body extraction from an
//     abstract Incoming request
//
// FromHTTP adapts a *http.Request into an Incoming value.
package decoder

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// ErrMalformedPair is returned in strict mode for a key=value piece with no '='.
var ErrMalformedPair = errors.New("malformed key=value pair")

// DecodeError describes which part of the request failed to decode.
type DecodeError struct {
	Part  string // "query" or "body"
	Piece string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %q: %v", e.Part, e.Piece, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Options controls decoding behaviour.
type Options struct {
	// Strict fails the whole request on a malformed key=value piece.
	// When false the piece is skipped.
	Strict bool
}

// HeaderLine is one header line as delivered by the HTTP primitive.
type HeaderLine struct {
	Name  string
	Value string
}

// Incoming is the protocol-neutral view of a parsed HTTP request.
type Incoming struct {
	Method     string
	Target     string // path and optional ?query, as received
	Header     []HeaderLine
	RemoteAddr string
	Body       []byte
}

// ContentType returns the last Content-Type header value, or "".
func (in *Incoming) ContentType() string {
	ct := ""
	for _, h := range in.Header {
		if strings.EqualFold(h.Name, "Content-Type") {
			ct = h.Value
		}
	}
	return ct
}

// Decode builds a CapturedRequest from an Incoming request.
func Decode(in Incoming, opts Options) (*domain.CapturedRequest, error) {
	path, rawQuery, hasQuery := strings.Cut(in.Target, "?")

	query := make(map[string]string)
	if hasQuery {
		var err error
		query, err = parsePairs("query", rawQuery, opts)
		if err != nil {
			return nil, err
		}
	}

	headers := make(map[string]string, len(in.Header))
	for _, h := range in.Header {
		headers[h.Name] = h.Value
	}

	var body map[string]string
	switch in.Method {
	case http.MethodGet, http.MethodPost:
		var err error
		body, err = DecodeBody(in.ContentType(), in.Body, opts)
		if err != nil {
			return nil, err
		}
	default:
		body = rawBody(in.Body)
	}

	return &domain.CapturedRequest{
		Method:   in.Method,
		Headers:  headers,
		Address:  in.RemoteAddr,
		FullPath: in.Target,
		Path:     path,
		Query:    query,
		Body:     body,
	}, nil
}

// parsePairs splits s on '&' and each piece once on '='. Values are
// percent-decoded, keys are kept literally. Empty pieces are ignored.
func parsePairs(part, s string, opts Options) (map[string]string, error) {
	res := make(map[string]string)
	for _, piece := range strings.Split(s, "&") {
		if piece == "" {
			continue
		}
		k, v, ok := strings.Cut(piece, "=")
		if !ok {
			if opts.Strict {
				return nil, &DecodeError{Part: part, Piece: piece, Err: ErrMalformedPair}
			}
			continue
		}
		res[k] = unquote(v)
	}
	return res, nil
}

func rawBody(raw []byte) map[string]string {
	if len(raw) == 0 {
		return make(map[string]string)
	}
	return map[string]string{RawKey: string(raw)}
}
