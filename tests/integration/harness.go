package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/api"
	"github.com/sirosfoundation/go-http-capture/internal/backend"
	"github.com/sirosfoundation/go-http-capture/internal/listener"
	"github.com/sirosfoundation/go-http-capture/internal/observer"
	"github.com/sirosfoundation/go-http-capture/internal/server"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/internal/websocket"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// AdminToken is the bearer token the harness configures on the admin API
const AdminToken = "integration-admin-token"

// TestHarness runs a complete capture stack: a listener manager on
// ephemeral ports with history and stream observers, and the admin API.
type TestHarness struct {
	T        *testing.T
	Config   *config.Config
	Listener *listener.Manager
	Admin    *server.Manager
	Storage  storage.Store
	Hub      *websocket.Hub
	Logger   *zap.Logger

	// Ports are the capture ports that were actually bound
	Ports []int

	// Client is a pre-configured HTTP client for making requests
	Client *http.Client

	// AdminURL is the base URL of the admin API
	AdminURL string

	portCount int
}

// TestHarnessOption configures the test harness
type TestHarnessOption func(*TestHarness)

// WithConfig sets a custom config for the test harness
func WithConfig(cfg *config.Config) TestHarnessOption {
	return func(h *TestHarness) {
		h.Config = cfg
	}
}

// WithPorts sets how many ephemeral capture ports to open
func WithPorts(n int) TestHarnessOption {
	return func(h *TestHarness) {
		h.portCount = n
	}
}

// NewTestHarness creates a new test harness with running capture ports and admin API
func NewTestHarness(t *testing.T, opts ...TestHarnessOption) *TestHarness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	h := &TestHarness{
		T:         t,
		Logger:    zap.NewNop(),
		Client:    &http.Client{Timeout: 10 * time.Second},
		portCount: 1,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.Config == nil {
		h.Config = config.Default()
	}
	h.Config.Listener.Host = "127.0.0.1"
	h.Config.Listener.ClosePauseMS = 1
	h.Config.Admin.Enabled = true
	h.Config.Admin.Host = "127.0.0.1"
	h.Config.Admin.Token = AdminToken

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := backend.New(ctx, &h.Config.History, h.Logger)
	if err != nil {
		t.Fatalf("Failed to create history backend: %v", err)
	}
	h.Storage = store
	h.Hub = websocket.NewHub(h.Logger)

	h.Listener = listener.NewManager(listener.FromConfig(h.Config.Listener), h.Logger)
	ports := make([]int, h.portCount)
	observers := []observer.Observer{storage.NewRecorder(h.Storage), h.Hub}
	if err := h.Listener.Start(context.Background(), ports, observers, false); err != nil {
		t.Fatalf("Failed to open capture ports: %v", err)
	}
	h.Ports = h.Listener.Ports()

	srvCfg := server.FromConfig(h.Config)
	srvCfg.Port = 0
	handlers := api.NewAdminHandlers(h.Listener, h.Storage, h.Hub, h.Logger)
	h.Admin = server.NewManager(srvCfg, handlers, h.Logger)
	if err := h.Admin.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start admin server: %v", err)
	}
	h.AdminURL = "http://" + h.Admin.Addr()

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Listener.CloseAll(shutdownCtx)
		_ = h.Admin.Shutdown(shutdownCtx)
		h.Hub.Close()
		_ = h.Storage.Close()
	})

	return h
}

// Port returns the i-th bound capture port
func (h *TestHarness) Port(i int) int {
	h.T.Helper()
	if i >= len(h.Ports) {
		h.T.Fatalf("Harness has %d capture ports, asked for #%d", len(h.Ports), i)
	}
	return h.Ports[i]
}

// Capture sends a request to a capture port
func (h *TestHarness) Capture(port int, method, path, contentType, body string) *Response {
	h.T.Helper()

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://127.0.0.1:%d%s", port, path), bodyReader)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return h.Do(req)
}

// Request makes an HTTP request to the admin API without credentials
func (h *TestHarness) Request(method, path string) *Response {
	h.T.Helper()

	req, err := http.NewRequest(method, h.AdminURL+path, nil)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}

	return h.Do(req)
}

// Do executes an HTTP request and returns a Response wrapper
func (h *TestHarness) Do(req *http.Request) *Response {
	h.T.Helper()

	resp, err := h.Client.Do(req)
	if err != nil {
		h.T.Fatalf("Request failed: %v", err)
	}

	return &Response{
		T:        h.T,
		Response: resp,
	}
}

// GET makes an unauthenticated admin GET request
func (h *TestHarness) GET(path string) *Response {
	return h.Request(http.MethodGet, path)
}

// WithAuth returns a client that sends the given bearer token to the admin API
func (h *TestHarness) WithAuth(token string) *AuthenticatedClient {
	return &AuthenticatedClient{
		harness: h,
		token:   token,
	}
}

// AsAdmin returns a client authenticated with the harness admin token
func (h *TestHarness) AsAdmin() *AuthenticatedClient {
	return h.WithAuth(AdminToken)
}

// AuthenticatedClient wraps the harness with auth headers
type AuthenticatedClient struct {
	harness *TestHarness
	token   string
}

// GET makes an authenticated GET request
func (c *AuthenticatedClient) GET(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.harness.AdminURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// DELETE makes an authenticated DELETE request
func (c *AuthenticatedClient) DELETE(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodDelete, c.harness.AdminURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// WaitForCaptures polls the history until it holds n captures
func (h *TestHarness) WaitForCaptures(n int64) {
	h.T.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := h.Storage.Count(context.Background())
		if err != nil {
			h.T.Fatalf("Failed to count captures: %v", err)
		}
		if count >= n {
			return
		}
		if time.Now().After(deadline) {
			h.T.Fatalf("Expected %d captures, have %d", n, count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Response wraps an HTTP response with assertion helpers
type Response struct {
	T        *testing.T
	Response *http.Response
	body     []byte
	bodyRead bool
}

// Body returns the response body as bytes
func (r *Response) Body() []byte {
	r.T.Helper()
	if !r.bodyRead {
		var err error
		r.body, err = io.ReadAll(r.Response.Body)
		if err != nil {
			r.T.Fatalf("Failed to read response body: %v", err)
		}
		r.Response.Body.Close()
		r.bodyRead = true
	}
	return r.body
}

// JSON unmarshals the response body into the given target
func (r *Response) JSON(target interface{}) *Response {
	r.T.Helper()
	if err := json.Unmarshal(r.Body(), target); err != nil {
		r.T.Fatalf("Failed to unmarshal response: %v\nBody: %s", err, string(r.Body()))
	}
	return r
}

// Status asserts the response status code
func (r *Response) Status(expected int) *Response {
	r.T.Helper()
	if r.Response.StatusCode != expected {
		r.T.Errorf("Expected status %d, got %d\nBody: %s", expected, r.Response.StatusCode, string(r.Body()))
	}
	return r
}

// Header returns the value of a response header
func (r *Response) Header(name string) string {
	return r.Response.Header.Get(name)
}

// BodyContains asserts the response body contains a substring
func (r *Response) BodyContains(substr string) *Response {
	r.T.Helper()
	if !bytes.Contains(r.Body(), []byte(substr)) {
		r.T.Errorf("Expected body to contain %q\nBody: %s", substr, string(r.Body()))
	}
	return r
}

// Pretty returns pretty-printed JSON for debugging
func (r *Response) Pretty() string {
	var v interface{}
	if err := json.Unmarshal(r.Body(), &v); err != nil {
		return string(r.Body())
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return string(pretty)
}
