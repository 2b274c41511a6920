package domain

import (
	"strings"
	"time"
)

// CapturedRequest is the decoded form of one inbound HTTP request.
// The JSON shape is what the capture listener sends back to the caller.
type CapturedRequest struct {
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Address  string            `json:"address"`
	FullPath string            `json:"fullpath"`
	Path     string            `json:"path"`
	Query    map[string]string `json:"querystring"`
	Body     map[string]string `json:"body"`

	// Envelope metadata, set by the listener. Not part of the reply.
	ID         string    `json:"-"`
	Port       int       `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

// Header returns the value of the named header, matching the name
// case-insensitively.
func (r *CapturedRequest) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Clone returns a deep copy so observers that keep the request
// cannot alias the maps of the original.
func (r *CapturedRequest) Clone() *CapturedRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = cloneMap(r.Headers)
	c.Query = cloneMap(r.Query)
	c.Body = cloneMap(r.Body)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
