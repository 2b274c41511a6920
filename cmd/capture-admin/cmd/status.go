package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Status represents the status response
type Status struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities"`
	Ports        []int    `json:"ports"`
	Observers    int      `json:"observers"`
}

// Session represents one open capture port
type Session struct {
	Port      int       `json:"port"`
	Address   string    `json:"address"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Requests  int64     `json:"requests"`
}

// SessionListResponse represents the list sessions response
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show listener status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/status")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		ports := make([]string, len(s.Ports))
		for i, p := range s.Ports {
			ports[i] = strconv.Itoa(p)
		}

		fmt.Fprintf(out, "Status:       %s\n", s.Status)
		fmt.Fprintf(out, "Service:      %s (api v%d)\n", s.Service, s.APIVersion)
		fmt.Fprintf(out, "Ports:        %s\n", strings.Join(ports, ", "))
		fmt.Fprintf(out, "Observers:    %d\n", s.Observers)
		fmt.Fprintf(out, "Capabilities: %s\n", strings.Join(s.Capabilities, ", "))
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List open capture ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request("GET", "/sessions")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var resp SessionListResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if len(resp.Sessions) == 0 {
			fmt.Fprintln(out, "No open capture ports.")
			return nil
		}

		headers := []string{"PORT", "ADDRESS", "STATE", "STARTED", "REQUESTS"}
		rows := make([][]string, len(resp.Sessions))
		for i, s := range resp.Sessions {
			rows[i] = []string{
				strconv.Itoa(s.Port),
				s.Address,
				s.State,
				s.StartedAt.Format(time.RFC3339),
				strconv.FormatInt(s.Requests, 10),
			}
		}
		printTable(out, headers, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}
