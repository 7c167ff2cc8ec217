package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/inspect"
	"github.com/mattjoyce/tasklog/internal/storage"
)

func runAuditNoun(args []string) int {
	if len(args) < 1 {
		printAuditNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printAuditNounHelp(stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runAuditList(actionArgs)
	case "show":
		return runAuditShow(actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown audit action: %s\n", action)
		return 1
	}
}

func printAuditNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasklog audit <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list [--limit N] [--path P] [--json]  Recent served commands")
	fmt.Fprintln(w, "  show [--json] <id>                     One command and its path history")
}

// openAudit opens the audit database named by the config at path.
func openAudit(ctx context.Context, path string) (*audit.Store, func(), error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.Audit.Enabled {
		return nil, nil, fmt.Errorf("audit is disabled in configuration")
	}
	if _, err := os.Stat(cfg.Audit.Path); err != nil {
		return nil, nil, fmt.Errorf("audit database %s: %w", cfg.Audit.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit database: %w", err)
	}
	return audit.NewStore(db), func() { _ = db.Close() }, nil
}

func runAuditList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum entries")
	path := fs.String("path", "", "Only entries that touched this log path")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx := context.Background()
	store, closeDB, err := openAudit(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeDB()

	var entries []*audit.Entry
	if *path != "" {
		entries, err = store.ForPath(ctx, *path, *limit)
	} else {
		entries, err = store.Recent(ctx, *limit)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []*audit.Entry{}
		}
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No entries.")
		return 0
	}
	fmt.Fprintf(stdout, "%-36s  %-20s  %-24s  %-6s  %s\n", "ID", "SERVED", "TYPE", "STATUS", "PATHS")
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed"
		}
		fmt.Fprintf(stdout, "%-36s  %-20s  %-24s  %-6s  %s\n",
			e.ID, e.At.Format(time.RFC3339), strings.TrimSuffix(e.Type, "_REQUEST"), status, strings.Join(e.Paths, ","))
	}
	return 0
}

func runAuditShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: tasklog audit show [--config PATH] [--json] <id>")
		return 1
	}

	ctx := context.Background()
	store, closeDB, err := openAudit(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeDB()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, store, fs.Arg(0))
		out += "\n"
	} else {
		out, err = inspect.BuildReport(ctx, store, fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, out)
	return 0
}
