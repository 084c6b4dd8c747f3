// Leozera is a WhatsApp financial assistant.
//
// It answers WhatsApp messages through an LLM with tools for
// transactions, reports, appointments and support material, and runs
// the reminder sweeps that notify users about upcoming appointments and
// expired plans. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]); a .env
// file in the working directory is loaded first.
//
// Usage:
//
//	leozera serve              Start the webhook server and reminder jobs
//	leozera sweep              Run every reminder sweep once and exit
//	leozera confirm <id>       Send a confirmation request for an appointment
//	leozera init [dir]         Write example config and support material
//	leozera version            Print version and build information
//	leozera -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	_ "time/tzdata" // America/Sao_Paulo on hosts without zoneinfo

	"github.com/joho/godotenv"

	"github.com/camppoia/leozera/internal/buildinfo"
	"github.com/camppoia/leozera/internal/config"
)

// main constructs the OS-level environment and delegates to [run].
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so run can
// be driven concurrently from tests without flag package globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var envPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-env" && i+1 < len(args):
			envPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-env="):
			envPath = strings.TrimPrefix(args[i], "-env=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve", "sweep", "confirm":
		if err := loadEnv(envPath); err != nil {
			return err
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "sweep":
		return runSweep(ctx, stdout, configPath, outputFmt)
	case "confirm":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: leozera confirm <appointment-id>")
		}
		return runConfirm(ctx, stdout, configPath, cmdArgs[0])
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// loadEnv loads a .env file into the process environment. A missing
// default .env is fine; an explicit path must exist.
func loadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Leozera - assistente financeiro no WhatsApp")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: leozera [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the webhook server and reminder jobs")
	fmt.Fprintln(w, "  sweep          Run every reminder sweep once and exit")
	fmt.Fprintln(w, "  confirm <id>   Send a confirmation request for an appointment")
	fmt.Fprintln(w, "  init [dir]     Write example config and support material (default: .)")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -env <path>       Path to .env file (default: ./.env if present)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// configuredLogger loads the config and returns a logger at its level
// and format.
func configuredLogger(stdout io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	// Validate already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded", "path", cfgPath, "database", cfg.Database.Path, "provider", cfg.WhatsApp.Provider)
	return cfg, logger, nil
}
