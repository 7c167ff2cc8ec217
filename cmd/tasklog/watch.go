package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tasklog/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "API base URL")
	apiKey := fs.String("api-key", os.Getenv("TASKLOG_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(stderr, "Error: API key required. Use --api-key or TASKLOG_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
