// Package main provides the capture-admin CLI tool for inspecting a running capture listener.
package main

import (
	"os"

	"github.com/sirosfoundation/go-http-capture/cmd/capture-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
