package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/tasklog/internal/config"
	"github.com/mattjoyce/tasklog/internal/doctor"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "log":
		return runLogNoun(args)
	case "audit":
		return runAuditNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Usage: tasklog version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "tasklog %s\n", info.Version)
	fmt.Fprintf(stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `tasklog - task log server and gateway for scheduler workers

Usage:
  tasklog <noun> <action> [flags]

Core Resources (Nouns):
  system    Worker log server lifecycle
  config    Configuration validation
  log       Read and remove task logs on a worker
  audit     Inspect the record of served commands

System Commands:
  system start      Start the log server (and API, if enabled) in foreground
  system watch      Live dashboard of served commands (needs the API)

Config Commands:
  config check      Validate configuration and print its fingerprint
  config get <path> Print a single value, e.g. server.listen
  config doctor     Check the config against this host (shell, paths, auth)

Log Commands:
  log get  --host H <path>                    Download raw bytes
  log view --host H <path>                    Print the whole log
  log roll --host H [--skip N] [--limit N] [--follow] <path>
                                              Print a window of lines
  log rm   --host H <path>...                 Delete logs (one status for all)

Audit Commands:
  audit list [--path P]   Recent served commands
  audit show <id>         One command and the history of its paths

General:
  version           Show version information
  help              Show this help message

Use 'tasklog <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Fprintln(stdout, "Usage: tasklog system start [--config PATH]")
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp(stdout)
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Fprintln(stdout, "Usage: tasklog config check [--config PATH] [--json]")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			fmt.Fprintln(stdout, "Usage: tasklog config get [--config PATH] <path>")
			return 0
		}
		return runConfigGet(actionArgs)
	case "doctor":
		if hasHelpFlag(actionArgs) {
			fmt.Fprintln(stdout, "Usage: tasklog config doctor [--config PATH] [--json]")
			return 0
		}
		return runConfigDoctor(actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

type configCheckResult struct {
	Valid       bool     `json:"valid"`
	Error       string   `json:"error,omitempty"`
	Files       []string `json:"files,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	result := configCheckResult{}
	cfg, err := loadConfig(*configPath)
	if err == nil {
		result.Files = cfg.SourceFiles
		result.Fingerprint, err = cfg.Fingerprint()
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if result.Valid {
		fmt.Fprintln(stdout, "Configuration valid.")
		for _, f := range result.Files {
			fmt.Fprintf(stdout, "  file: %s\n", f)
		}
		fmt.Fprintf(stdout, "  fingerprint: blake3:%s\n", result.Fingerprint)
	} else {
		fmt.Fprintf(stderr, "Configuration invalid: %s\n", result.Error)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: tasklog config get [--config PATH] <path>")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}
	v, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch val := v.(type) {
	case string, int, bool, float64:
		fmt.Fprintln(stdout, val)
	default:
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
	}
	return 0
}

func runConfigDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

// loadConfig loads path, or the discovered config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasklog system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printSystemWatchHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasklog system watch [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Live dashboard of the log commands a server answers.")
	fmt.Fprintln(w, "Requires the HTTP API to be enabled on that server.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --api-url URL    API base URL (default: http://127.0.0.1:8080)")
	fmt.Fprintln(w, "  --api-key KEY    Bearer token with logs:ro (or TASKLOG_API_KEY env var)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Keys: q quit, c clear counters, up/down select a row")
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: tasklog config <action>")
	fmt.Fprintln(w, "Actions: check, get, doctor")
}
