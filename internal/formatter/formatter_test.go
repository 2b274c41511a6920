package formatter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

func TestFormat_Record(t *testing.T) {
	req := &domain.CapturedRequest{
		Method:   "GET",
		Headers:  map[string]string{"Host": "localhost"},
		FullPath: "/a?b=c",
		Path:     "/a",
		Query:    map[string]string{"b": "c"},
		Body:     map[string]string{},
	}

	ct, body := Format(req)
	assert.Equal(t, ContentTypeJSON, ct)
	assert.Equal(t, "GET", gjson.GetBytes(body, "method").String())
	assert.Equal(t, "/a", gjson.GetBytes(body, "path").String())
	assert.Equal(t, "c", gjson.GetBytes(body, "querystring.b").String())
	assert.True(t, gjson.GetBytes(body, "body").IsObject())
}

func TestFormat_Map(t *testing.T) {
	ct, body := Format(map[string]string{"a": "1"})
	assert.Equal(t, ContentTypeJSON, ct)
	assert.JSONEq(t, `{"a":"1"}`, string(body))
}

func TestFormat_Text(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello"},
		{"int", 42, "42"},
		{"nil", nil, "<nil>"},
		{"error", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, body := Format(tt.in)
			assert.Equal(t, ContentTypeText, ct)
			assert.Equal(t, tt.want, string(body))
		})
	}
}

func TestFormat_UnmarshallableFallsBack(t *testing.T) {
	v := map[string]interface{}{"ch": make(chan int)}

	ct, body := Format(v)
	assert.Equal(t, ContentTypeText, ct)
	assert.NotEmpty(t, body)
}
