// Package main provides the voiceswap CLI.
//
// Usage:
//
//	voiceswap [flags] <command> [args]
//
// Commands:
//
//	run    - Run a full replacement: submit video, apply mapping, download result
//	jobs   - Inspect, cancel and delete jobs
//	voices - List catalog voices and clone new ones
//
// The CLI talks to a running voiceswap server; point it at one with
// --server (default http://localhost:8000).
package main

import (
	"fmt"
	"os"

	"github.com/famflix/voiceswap/cmd/voiceswap/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
