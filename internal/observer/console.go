package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// Console prints every capture to a writer: a coloured summary line followed
// by the JSON record.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

// NewConsole creates a console observer writing to out (stdout if nil).
func NewConsole(out io.Writer, noColor bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, noColor: noColor}
}

// Name implements Named
func (c *Console) Name() string { return "console" }

// Handle implements Observer
func (c *Console) Handle(_ context.Context, req *domain.CapturedRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}

	method := color.New(color.FgGreen, color.Bold)
	path := color.New(color.FgCyan)
	dim := color.New(color.Faint)
	if c.noColor {
		method.DisableColor()
		path.DisableColor()
		dim.DisableColor()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = fmt.Fprintf(c.out, "%s %s %s\n%s\n",
		method.Sprint(req.Method),
		path.Sprint(req.FullPath),
		dim.Sprintf("from %s on :%d", req.Address, req.Port),
		data)
	return err
}
