package integration

import (
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	h := NewTestHarness(t, WithPorts(2))

	resp := h.GET("/status")
	resp.Status(http.StatusOK)

	var body struct {
		Status       string   `json:"status"`
		Service      string   `json:"service"`
		Capabilities []string `json:"capabilities"`
		Ports        []int    `json:"ports"`
		Observers    int      `json:"observers"`
	}
	resp.JSON(&body)

	if body.Status != "ok" {
		t.Errorf("Expected status 'ok', got %q", body.Status)
	}
	if body.Service != "http-capture" {
		t.Errorf("Expected service 'http-capture', got %q", body.Service)
	}
	if len(body.Ports) != 2 || body.Ports[0] != h.Port(0) || body.Ports[1] != h.Port(1) {
		t.Errorf("Expected ports %v, got %v", h.Ports, body.Ports)
	}
	if body.Observers != 2 {
		t.Errorf("Expected 2 observers, got %d", body.Observers)
	}
	if len(body.Capabilities) != 3 {
		t.Errorf("Expected 3 capabilities, got %v", body.Capabilities)
	}
}

func TestAdminAuth(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("no token", func(t *testing.T) {
		h.GET("/sessions").Status(http.StatusUnauthorized)
	})

	t.Run("wrong token", func(t *testing.T) {
		h.WithAuth("not-the-token").GET("/captures").Status(http.StatusUnauthorized)
	})

	t.Run("admin token", func(t *testing.T) {
		h.AsAdmin().GET("/sessions").
			Status(http.StatusOK).
			BodyContains(`"state":"listening"`)
	})
}
