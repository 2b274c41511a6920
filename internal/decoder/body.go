package decoder

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// RawKey holds the undecoded body when the content type is not understood.
	RawKey = "raw"

	multipartPrefix  = "multipart/form-data; boundary="
	urlencodedPrefix = "application/x-www-form-urlencoded"
)

// multipartField matches a single-line text field inside one multipart segment.
var multipartField = regexp.MustCompile("Content-Disposition: form-data; name=\"(.+)\"\r\n\r\n(.+)\r\n--")

// DecodeBody parses raw according to contentType.
//
// Only simple text fields are extracted from multipart bodies; file parts and
// multi-line values are skipped. Unknown or missing content types yield
// {"raw": body}.
func DecodeBody(contentType string, raw []byte, opts Options) (map[string]string, error) {
	if len(raw) == 0 {
		return make(map[string]string), nil
	}
	text := string(raw)

	switch {
	case strings.HasPrefix(contentType, multipartPrefix):
		boundary := strings.Trim(contentType[len(multipartPrefix):], `"`)
		if boundary == "" {
			return rawBody(raw), nil
		}
		return decodeMultipart(boundary, text), nil
	case strings.HasPrefix(contentType, urlencodedPrefix):
		return parsePairs("body", text, opts)
	default:
		return rawBody(raw), nil
	}
}

func decodeMultipart(boundary, text string) map[string]string {
	res := make(map[string]string)
	for _, segment := range strings.Split(text, boundary) {
		if segment == "" || segment == "--" || segment == "--\r\n" {
			continue
		}
		m := multipartField.FindStringSubmatch(segment)
		if m == nil {
			continue
		}
		res[m[1]] = m[2]
	}
	return res
}

// unquote percent-decodes s without treating '+' as a space. Invalid escape
// sequences are kept as-is.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
