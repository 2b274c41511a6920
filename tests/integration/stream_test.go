package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestCaptureStream(t *testing.T) {
	h := NewTestHarness(t)

	wsURL := "ws" + strings.TrimPrefix(h.AdminURL, "http") + "/captures/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+AdminToken)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Failed to dial stream: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ready); err != nil {
		t.Fatalf("Failed to read ready message: %v", err)
	}
	if ready.Type != "ready" {
		t.Fatalf("Expected ready message, got %q", ready.Type)
	}

	h.Capture(h.Port(0), http.MethodPut, "/streamed?x=1", "", "").Status(http.StatusOK)

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read capture message: %v", err)
	}

	var msg struct {
		Type    string       `json:"type"`
		Capture captureEntry `json:"capture"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to decode capture message: %v", err)
	}
	if msg.Type != "capture" {
		t.Errorf("Expected capture message, got %q", msg.Type)
	}
	if msg.Capture.Request.Method != "PUT" || msg.Capture.Request.FullPath != "/streamed?x=1" {
		t.Errorf("Unexpected streamed capture: %+v", msg.Capture.Request)
	}
}
