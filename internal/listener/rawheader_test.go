package listener

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// rawRequest writes request verbatim on a new connection and returns the
// response body
func rawRequest(t *testing.T, port int, request string) string {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, request)
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestManager_HeaderNamesKeepCase(t *testing.T) {
	rec := &recorder{}
	mgr := startManager(t, testConfig(), []int{0}, rec)
	port := mgr.Ports()[0]

	body := rawRequest(t, port, "GET /x HTTP/1.1\r\n"+
		"host: h\r\n"+
		"x-lower-case: a\r\n"+
		"X-LOUD: b\r\n"+
		"Connection: close\r\n"+
		"\r\n")

	headers := gjson.Get(body, "headers")
	assert.Equal(t, "h", headers.Get("host").String())
	assert.Equal(t, "a", headers.Get("x-lower-case").String())
	assert.Equal(t, "b", headers.Get("X-LOUD").String())
	assert.False(t, headers.Get("X-Lower-Case").Exists())
	assert.False(t, headers.Get("X-Loud").Exists())
	assert.False(t, headers.Get("Host").Exists())

	req := rec.waitFor(t, 1)[0]
	assert.Equal(t, map[string]string{
		"host":         "h",
		"x-lower-case": "a",
		"X-LOUD":       "b",
		"Connection":   "close",
	}, req.Headers)
}

func TestManager_HeaderNamesDifferingInCase(t *testing.T) {
	mgr := startManager(t, testConfig(), []int{0})
	port := mgr.Ports()[0]

	body := rawRequest(t, port, "GET / HTTP/1.1\r\n"+
		"Host: h\r\n"+
		"X-Token: one\r\n"+
		"x-token: two\r\n"+
		"Connection: close\r\n"+
		"\r\n")

	assert.Equal(t, "one", gjson.Get(body, "headers.X-Token").String())
	assert.Equal(t, "two", gjson.Get(body, "headers.x-token").String())
}

func TestManager_HeaderNamesKeepAlive(t *testing.T) {
	mgr := startManager(t, testConfig(), []int{0})
	port := mgr.Ports()[0]

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// two pipelined requests, the first with a form body
	_, err = io.WriteString(conn, "POST /first HTTP/1.1\r\n"+
		"host: h\r\n"+
		"content-type: application/x-www-form-urlencoded\r\n"+
		"content-length: 3\r\n"+
		"\r\n"+
		"a=1"+
		"GET /second HTTP/1.1\r\n"+
		"HOST: h\r\n"+
		"x-second: yes\r\n"+
		"\r\n")
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	read := func() string {
		resp, err := http.ReadResponse(r, nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	first := read()
	assert.Equal(t, "/first", gjson.Get(first, "path").String())
	assert.Equal(t, "1", gjson.Get(first, "body.a").String())
	assert.True(t, gjson.Get(first, "headers.content-length").Exists())

	second := read()
	assert.Equal(t, "/second", gjson.Get(second, "path").String())
	assert.Equal(t, "yes", gjson.Get(second, "headers.x-second").String())
	assert.Equal(t, "h", gjson.Get(second, "headers.HOST").String())
}

func TestHeaderRecorder_SplitReads(t *testing.T) {
	hr := &headerRecorder{}
	request := "\r\nPOST /a?b=1 HTTP/1.1\r\nhost: h\r\ncontent-length: 5\r\nX-Mixed-Case: v\r\n\r\nhelloGET /next HTTP/1.1\r\nx-n: 1\r\n\r\n"

	for i := 0; i < len(request); i++ {
		hr.observe([]byte{request[i]})
	}

	names, ok := hr.next(http.MethodPost, "/a?b=1")
	require.True(t, ok)
	assert.Equal(t, []string{"host", "content-length", "X-Mixed-Case"}, names)

	names, ok = hr.next(http.MethodGet, "/next")
	require.True(t, ok)
	assert.Equal(t, []string{"x-n"}, names)

	_, ok = hr.next(http.MethodGet, "/next")
	assert.False(t, ok)
}

func TestHeaderRecorder_SkipsUndispatchedHeads(t *testing.T) {
	hr := &headerRecorder{}
	hr.observe([]byte("GET /rejected HTTP/1.1\r\na: 1\r\n\r\nGET /ok HTTP/1.1\r\nb: 2\r\n\r\n"))

	names, ok := hr.next(http.MethodGet, "/ok")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, names)
}

func TestHeaderRecorder_StopsOnUnknownFraming(t *testing.T) {
	hr := &headerRecorder{}
	hr.observe([]byte("POST / HTTP/1.1\r\ntransfer-encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\nGET /after HTTP/1.1\r\nx: 1\r\n\r\n"))

	assert.True(t, hr.lost)
	_, ok := hr.next(http.MethodPost, "/")
	assert.False(t, ok)
	_, ok = hr.next(http.MethodGet, "/after")
	assert.False(t, ok)
}

func TestParseHead(t *testing.T) {
	tests := []struct {
		name    string
		head    string
		wantOK  bool
		wantLen int64
		names   []string
	}{
		{"plain", "GET / HTTP/1.1\r\nHost: h\r\naccept: */*", true, 0, []string{"Host", "accept"}},
		{"bare lf", "GET / HTTP/1.1\nhost: h", true, 0, []string{"host"}},
		{"content length", "POST / HTTP/1.1\r\ncontent-length: 12", true, 12, []string{"content-length"}},
		{"bad content length", "POST / HTTP/1.1\r\ncontent-length: x", false, 0, nil},
		{"chunked", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked", false, 0, nil},
		{"bad request line", "GARBAGE\r\nhost: h", false, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, n, ok := parseHead([]byte(tt.head))
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantLen, n)
			assert.Equal(t, tt.names, h.names)
		})
	}
}
