package decoder

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Path(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/a/b?x=1", "/a/b"},
		{"/a/b", "/a/b"},
		{"/", "/"},
		{"/search?", "/search"},
		{"/a?b?c=d", "/a"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req, err := Decode(Incoming{Method: http.MethodGet, Target: tt.target}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Path)
			assert.Equal(t, tt.target, req.FullPath)
			assert.NotContains(t, req.Path, "?")
		})
	}
}

func TestDecode_QueryRoundTrip(t *testing.T) {
	values := map[string]string{
		"k1": "v1",
		"k2": "two words",
		"k3": "a/b&c=d",
		"k4": "ünïcödé",
		"k5": "",
	}

	var pieces []string
	for k, v := range values {
		pieces = append(pieces, k+"="+strings.ReplaceAll(url.QueryEscape(v), "+", "%20"))
	}
	target := "/q?" + strings.Join(pieces, "&")

	req, err := Decode(Incoming{Method: http.MethodGet, Target: target}, Options{Strict: true})
	require.NoError(t, err)
	assert.Equal(t, values, req.Query)
}

func TestDecode_QueryDetails(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   map[string]string
	}{
		{"no query", "/a", map[string]string{}},
		{"plus is literal", "/a?x=a+b", map[string]string{"x": "a+b"}},
		{"last wins", "/a?x=1&x=2", map[string]string{"x": "2"}},
		{"split once", "/a?x=a=b", map[string]string{"x": "a=b"}},
		{"empty pieces ignored", "/a?x=1&&y=2&", map[string]string{"x": "1", "y": "2"}},
		{"keys not decoded", "/a?a%20b=c", map[string]string{"a%20b": "c"}},
		{"invalid escape kept", "/a?x=100%25%zz", map[string]string{"x": "100%%zz"}},
		{"trailing percent", "/a?x=50%", map[string]string{"x": "50%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode(Incoming{Method: http.MethodGet, Target: tt.target}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Query)
		})
	}
}

func TestDecode_MalformedQuery(t *testing.T) {
	in := Incoming{Method: http.MethodGet, Target: "/a?x=1&flag&y=2"}

	t.Run("lenient skips the piece", func(t *testing.T) {
		req, err := Decode(in, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"x": "1", "y": "2"}, req.Query)
	})

	t.Run("strict fails the request", func(t *testing.T) {
		req, err := Decode(in, Options{Strict: true})
		require.Error(t, err)
		assert.Nil(t, req)
		assert.True(t, errors.Is(err, ErrMalformedPair))

		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "query", de.Part)
		assert.Equal(t, "flag", de.Piece)
	})
}

func TestDecode_Headers(t *testing.T) {
	in := Incoming{
		Method: http.MethodGet,
		Target: "/",
		Header: []HeaderLine{
			{Name: "Host", Value: "localhost"},
			{Name: "X-Dup", Value: "first"},
			{Name: "x-case", Value: "lower"},
			{Name: "X-Dup", Value: "second"},
		},
	}

	req, err := Decode(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Host":   "localhost",
		"X-Dup":  "second",
		"x-case": "lower",
	}, req.Headers)
}

func TestDecode_BodyByMethod(t *testing.T) {
	form := []HeaderLine{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	t.Run("post decodes", func(t *testing.T) {
		req, err := Decode(Incoming{Method: http.MethodPost, Target: "/", Header: form, Body: []byte("a=1")}, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1"}, req.Body)
	})

	t.Run("get with body decodes", func(t *testing.T) {
		req, err := Decode(Incoming{Method: http.MethodGet, Target: "/", Header: form, Body: []byte("a=1")}, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1"}, req.Body)
	})

	t.Run("put passes through", func(t *testing.T) {
		req, err := Decode(Incoming{Method: http.MethodPut, Target: "/", Header: form, Body: []byte("a=1")}, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{RawKey: "a=1"}, req.Body)
	})

	t.Run("no body is empty", func(t *testing.T) {
		req, err := Decode(Incoming{Method: http.MethodDelete, Target: "/"}, Options{})
		require.NoError(t, err)
		assert.NotNil(t, req.Body)
		assert.Empty(t, req.Body)
	})
}

func TestDecodeBody_URLEncoded(t *testing.T) {
	body, err := DecodeBody("application/x-www-form-urlencoded", []byte("a=1&b=two%20words"), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "two words"}, body)

	body, err = DecodeBody("application/x-www-form-urlencoded; charset=utf-8", []byte("x=y"), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x": "y"}, body)
}

func TestDecodeBody_URLEncodedMalformed(t *testing.T) {
	body, err := DecodeBody("application/x-www-form-urlencoded", []byte("a=1&junk"), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, body)

	_, err = DecodeBody("application/x-www-form-urlencoded", []byte("a=1&junk"), Options{Strict: true})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "body", de.Part)
}

func TestDecodeBody_Multipart(t *testing.T) {
	body := "--X\r\nContent-Disposition: form-data; name=\"foo\"\r\n\r\nbar\r\n--X--\r\n"

	got, err := DecodeBody("multipart/form-data; boundary=X", []byte(body), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"foo": "bar"}, got)
}

func TestDecodeBody_MultipartWriter(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("first", "one"))
	require.NoError(t, w.WriteField("second", "two words"))
	require.NoError(t, w.WriteField("multi", "line1\r\nline2"))
	fw, err := w.CreateFormFile("upload", "file.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := DecodeBody(w.FormDataContentType(), buf.Bytes(), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"first": "one", "second": "two words"}, got)
}

func TestDecodeBody_MultipartQuotedBoundary(t *testing.T) {
	body := "--abc\r\nContent-Disposition: form-data; name=\"k\"\r\n\r\nv\r\n--abc--\r\n"

	got, err := DecodeBody(`multipart/form-data; boundary="abc"`, []byte(body), Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got)
}

func TestDecodeBody_Fallbacks(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		raw         string
		want        map[string]string
	}{
		{"unknown type", "text/plain", "hello", map[string]string{"raw": "hello"}},
		{"json is raw", "application/json", `{"a":1}`, map[string]string{"raw": `{"a":1}`}},
		{"missing type", "", "hello", map[string]string{"raw": "hello"}},
		{"empty body", "application/x-www-form-urlencoded", "", map[string]string{}},
		{"empty body no type", "", "", map[string]string{}},
		{"empty boundary", "multipart/form-data; boundary=", "data", map[string]string{"raw": "data"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBody(tt.contentType, []byte(tt.raw), Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/hook/a?x=1", strings.NewReader("a=1&b=2"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Add("X-Multi", "one")
	r.Header.Add("X-Multi", "two")

	in, err := FromHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, in.Method)
	assert.Equal(t, "/hook/a?x=1", in.Target)
	assert.Equal(t, r.RemoteAddr, in.RemoteAddr)
	assert.Equal(t, []byte("a=1&b=2"), in.Body)
	assert.Equal(t, "application/x-www-form-urlencoded", in.ContentType())

	req, err := Decode(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, "example.com", req.Headers["Host"])
	assert.Equal(t, "two", req.Headers["X-Multi"])
	assert.Equal(t, "/hook/a", req.Path)
	assert.Equal(t, map[string]string{"x": "1"}, req.Query)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, req.Body)
}

func TestFromHTTP_WireHeaderNames(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "h"
	r.Header["X-Token"] = []string{"one", "two"}
	r.Header["Accept"] = []string{"*/*"}
	r = r.WithContext(WithHeaderNames(r.Context(), []string{"host", "X-Token", "x-token", "ACCEPT", "x-missing"}))

	in, err := FromHTTP(r)
	require.NoError(t, err)
	assert.Equal(t, []HeaderLine{
		{Name: "host", Value: "h"},
		{Name: "X-Token", Value: "one"},
		{Name: "x-token", Value: "two"},
		{Name: "ACCEPT", Value: "*/*"},
	}, in.Header)

	req, err := Decode(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"host":    "h",
		"X-Token": "one",
		"x-token": "two",
		"ACCEPT":  "*/*",
	}, req.Headers)
}

func TestFromHTTP_UnknownLengthIsNoBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ignored"))
	r.ContentLength = -1

	in, err := FromHTTP(r)
	require.NoError(t, err)
	assert.Empty(t, in.Body)
}

func TestFromHTTP_ShortBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("abc"))
	r.ContentLength = 10

	_, err := FromHTTP(r)
	assert.Error(t, err)
}
