package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// CapturedRequest mirrors the capture reply shape
type CapturedRequest struct {
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Address  string            `json:"address"`
	FullPath string            `json:"fullpath"`
	Path     string            `json:"path"`
	Query    map[string]string `json:"querystring"`
	Body     map[string]string `json:"body"`
}

// Capture represents a stored capture
type Capture struct {
	ID         string          `json:"id"`
	Port       int             `json:"port"`
	ReceivedAt time.Time       `json:"received_at"`
	Request    CapturedRequest `json:"request"`
}

// CaptureListResponse represents the list captures response
type CaptureListResponse struct {
	Captures []Capture `json:"captures"`
	Count    int       `json:"count"`
}

// streamMessage is one message from the capture stream
type streamMessage struct {
	Type    string   `json:"type"`
	Capture *Capture `json:"capture"`
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "Inspect captured requests",
	Long:  `Commands for listing, showing, clearing and following captured requests.`,
}

var (
	listPort   int
	listMethod string
	listPath   string
	listLimit  int
)

var capturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if listPort > 0 {
			q.Set("port", strconv.Itoa(listPort))
		}
		if listMethod != "" {
			q.Set("method", listMethod)
		}
		if listPath != "" {
			q.Set("path", listPath)
		}
		if listLimit > 0 {
			q.Set("limit", strconv.Itoa(listLimit))
		}

		path := "/captures"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var resp CaptureListResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if len(resp.Captures) == 0 {
			fmt.Fprintln(out, "No captures found.")
			return nil
		}

		headers := []string{"ID", "RECEIVED", "PORT", "METHOD", "PATH", "FROM"}
		rows := make([][]string, len(resp.Captures))
		for i, c := range resp.Captures {
			rows[i] = captureRow(c)
		}
		printTable(out, headers, rows)
		return nil
	},
}

var capturesGetCmd = &cobra.Command{
	Use:   "get [capture-id]",
	Short: "Show a captured request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/captures/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

var clearForce bool

var capturesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearForce {
			return fmt.Errorf("refusing to clear capture history without --force")
		}

		client := NewClient(adminURL, adminToken)
		data, err := client.Request("DELETE", "/captures")
		if err != nil {
			return err
		}

		var resp struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d captures.\n", resp.Deleted)
		return nil
	},
}

var capturesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow new captures as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, err := streamURL(adminURL)
		if err != nil {
			return err
		}

		header := http.Header{}
		if adminToken != "" {
			header.Set("Authorization", "Bearer "+adminToken)
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			return fmt.Errorf("failed to connect to capture stream: %w", err)
		}
		defer conn.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)
		go func() {
			<-interrupt
			_ = conn.Close()
		}()

		out := cmd.OutOrStdout()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}

			var msg streamMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Capture == nil {
				continue
			}

			if output == "json" {
				fmt.Fprintln(out, string(data))
				continue
			}
			fmt.Fprintln(out, strings.Join(captureRow(*msg.Capture), "  "))
		}
	},
}

// streamURL turns the admin base URL into the WebSocket stream URL
func streamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid admin URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/captures/stream"
	return u.String(), nil
}

func captureRow(c Capture) []string {
	return []string{
		c.ID,
		c.ReceivedAt.Local().Format("15:04:05.000"),
		strconv.Itoa(c.Port),
		c.Request.Method,
		c.Request.FullPath,
		c.Request.Address,
	}
}

func init() {
	capturesListCmd.Flags().IntVar(&listPort, "port", 0, "Only captures received on this port")
	capturesListCmd.Flags().StringVar(&listMethod, "method", "", "Only captures with this HTTP method")
	capturesListCmd.Flags().StringVar(&listPath, "path", "", "Only captures with this path")
	capturesListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of captures")

	capturesClearCmd.Flags().BoolVar(&clearForce, "force", false, "Confirm deletion")

	capturesCmd.AddCommand(capturesListCmd)
	capturesCmd.AddCommand(capturesGetCmd)
	capturesCmd.AddCommand(capturesClearCmd)
	capturesCmd.AddCommand(capturesWatchCmd)
	rootCmd.AddCommand(capturesCmd)
}
