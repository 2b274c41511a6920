package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func parse(t *testing.T, args ...string) (*cobra.Command, *options) {
	t.Helper()

	opts := &options{}
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd, opts)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd, opts
}

func TestLoadConfig_Defaults(t *testing.T) {
	cmd, opts := parse(t)

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{8080}, cfg.Listener.Ports)
	assert.Equal(t, []string{config.ObserverConsole}, cfg.Observers)
	assert.False(t, cfg.Admin.Enabled)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cmd, opts := parse(t,
		"--port", "18080", "--port", "18081",
		"--host", "0.0.0.0",
		"--observer", "log", "--observer", "history",
		"--admin",
	)

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, []int{18080, 18081}, cfg.Listener.Ports)
	assert.Equal(t, "0.0.0.0", cfg.Listener.Host)
	assert.Equal(t, []string{"log", "history"}, cfg.Observers)
	assert.True(t, cfg.Admin.Enabled)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"duplicate port", []string{"--port", "9000", "--port", "9000"}},
		{"port out of range", []string{"--port", "70000"}},
		{"unknown observer", []string{"--observer", "printer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, opts := parse(t, tt.args...)
			_, err := loadConfig(cmd, opts)
			assert.Error(t, err)
		})
	}
}

func TestBuildObservers(t *testing.T) {
	cfg := config.Default()
	cfg.Observers = []string{"console", "log", "history", "stream", "history"}

	var out bytes.Buffer
	set, err := buildObservers(context.Background(), cfg, &out, true, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	require.Len(t, set.Observers, 4)
	require.NotNil(t, set.Store)
	require.NotNil(t, set.Hub)

	req := &domain.CapturedRequest{ID: "c1", Port: 8080, Method: "GET", FullPath: "/x", Path: "/x"}
	for _, o := range set.Observers {
		require.NoError(t, o.Handle(context.Background(), req))
	}

	assert.Contains(t, out.String(), "GET /x")
	n, err := set.Store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBuildObservers_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Observers = []string{"stream", "printer"}

	_, err := buildObservers(context.Background(), cfg, nil, true, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "printer")
}

func TestRun_CapturesUntilCancelled(t *testing.T) {
	port := freePort(t)

	cfg := config.Default()
	cfg.Listener.Ports = []int{port}
	cfg.Listener.ClosePauseMS = 1
	cfg.Observers = []string{config.ObserverHistory}
	cfg.Logging.Level = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, &options{noColor: true}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/hello?a=1", port)
	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get(url)
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 5*time.Second, 20*time.Millisecond)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
