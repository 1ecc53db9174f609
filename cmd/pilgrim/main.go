package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Version is stamped at build time.
var Version = "0.3.0"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	// A missing .env is normal.
	_ = godotenv.Load()
	setupLogging(os.Getenv("LOG_LEVEL"), stderr)

	if len(args) < 2 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "seal":
		return runSealCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "receipt":
		if len(args) < 3 || args[2] != "verify" {
			_, _ = fmt.Fprintln(stderr, "Usage: pilgrim receipt verify --receipt <file> --intent <file>")
			return exitUsage
		}
		return runReceiptVerifyCmd(args[3:], stdout, stderr)
	case "ledger":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: pilgrim ledger <verify|show>")
			return exitUsage
		}
		switch args[2] {
		case "verify":
			return runLedgerVerifyCmd(args[3:], stdout, stderr)
		case "show":
			return runLedgerShowCmd(args[3:], stdout, stderr)
		default:
			_, _ = fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", args[2])
			return exitUsage
		}
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "invariants":
		return runInvariantsCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "pilgrim %s\n", Version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitUsage
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sPILGRIM %s%s\n", ColorBold+ColorBlue, Version, ColorReset)
	_, _ = fmt.Fprintf(w, "%sSame intent, same trace, same receipt.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  pilgrim <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "CORE")
	printCommand(w, "serve", "Run the HTTP bridge (--addr)")
	printCommand(w, "seal", "Seal an intent into an envelope (--in)")
	printCommand(w, "verify", "Verify an envelope checksum (--in, --json)")
	printCommand(w, "run", "Execute an envelope and append the receipt (--in, --subject)")

	printSection(w, "AUDIT")
	printCommand(w, "receipt", "verify: replay a receipt against its intent")
	printCommand(w, "ledger", "verify | show: inspect the configured ledger")
	printCommand(w, "replay", "Offline check of an exported JSONL ledger (--file)")
	printCommand(w, "invariants", "List registered invariants (--json)")

	printSection(w, "UTILITIES")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// setupLogging routes slog and the operator log lines to stderr.
func setupLogging(level string, stderr io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl})))
	log.SetOutput(stderr)
	log.SetFlags(log.LstdFlags)
}
