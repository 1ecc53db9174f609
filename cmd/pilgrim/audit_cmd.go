package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/api"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/config"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/replay"
)

// runLedgerVerifyCmd re-derives the configured ledger's chain.
func runLedgerVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		status := api.LedgerStatus{OK: true}
		if err := rt.svc.VerifyLedger(ctx); err != nil {
			status = api.LedgerStatus{Error: err.Error(), Code: attest.ErrorCode(err)}
		}
		if records, err := rt.svc.Records(ctx); err == nil {
			status.Records = len(records)
		}
		if head, err := rt.ledger.Head(ctx); err == nil {
			status.Head = head
		}

		switch {
		case *jsonOutput:
			printJSON(stdout, status)
		case status.OK:
			_, _ = fmt.Fprintf(stdout, "%s✅ ledger intact%s: %d records, head %s\n", ColorGreen, ColorReset, status.Records, status.Head)
		default:
			_, _ = fmt.Fprintf(stdout, "%s❌ ledger broken%s: %s\n", ColorRed, ColorReset, status.Error)
		}
		if !status.OK {
			return exitFailed
		}
		return exitOK
	})
}

// runLedgerShowCmd prints committed records, optionally filtered.
func runLedgerShowCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ledger show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	kind := cmd.String("kind", "", "Only records of this kind (receipt, rejection, failure, drift)")
	index := cmd.Int("index", -1, "Only the record at this index")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		records, err := rt.svc.Records(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		if *index >= 0 {
			if *index >= len(records) {
				_, _ = fmt.Fprintf(stderr, "Error: no record at index %d (ledger has %d)\n", *index, len(records))
				return exitFailed
			}
			printJSON(stdout, records[*index])
			return exitOK
		}

		out := make([]ledger.Record, 0, len(records))
		for _, rec := range records {
			if *kind == "" || rec.Kind == *kind {
				out = append(out, rec)
			}
		}
		printJSON(stdout, out)
		return exitOK
	})
}

// runReplayCmd implements `pilgrim replay`: offline verification of an
// exported JSONL ledger. It never opens the configured backend.
//
// Exit codes:
//
//	0 = nothing flagged
//	1 = chain, hash or receipt issues found
//	2 = runtime error
func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "Ledger JSONL file (default: the file backend's path)")
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		*file = config.Load().LedgerPath()
	}

	result, err := replay.FromFile(*file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if *jsonOutput {
		printJSON(stdout, result)
	} else {
		verdict := ColorGreen + "✅ replay clean" + ColorReset
		if !result.OK() {
			verdict = ColorRed + "❌ replay flagged issues" + ColorReset
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", verdict, *file)
		_, _ = fmt.Fprintf(stdout, "   Records:  %d (%d hashes verified)\n", result.TotalRecords, result.HashesVerified)
		_, _ = fmt.Fprintf(stdout, "   Receipts: %d checked\n", result.ReceiptsChecked)
		for _, kind := range slices.Sorted(maps.Keys(result.Summary)) {
			_, _ = fmt.Fprintf(stdout, "   %-9s %d\n", kind+":", result.Summary[kind])
		}
		for _, group := range [][]string{result.ChainBreaks, result.HashMismatches, result.NonCanonical, result.ReceiptIssues} {
			for _, issue := range group {
				_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
			}
		}
		for _, id := range result.DuplicateRunIDs {
			_, _ = fmt.Fprintf(stdout, "  - duplicate run_id %s\n", id)
		}
	}

	if !result.OK() {
		return exitFailed
	}
	return exitOK
}

// runInvariantsCmd lists the system invariants plus the profile's own.
func runInvariantsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("invariants", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	domain := cmd.String("domain", "", "Only invariants in this domain")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	_, profile, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	reg, err := invariantRegistry(profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	specs := reg.All()
	if *domain != "" {
		specs = reg.ByDomain(*domain)
	}
	if *jsonOutput {
		printJSON(stdout, specs)
		return exitOK
	}
	for _, s := range specs {
		_, _ = fmt.Fprintf(stdout, "  %s%-12s%s %-13s %-11s %s\n", ColorGreen, s.ID, ColorReset, s.Domain, s.Class, s.Description)
	}
	return exitOK
}

// runHealthCmd probes a running bridge.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "", "Health endpoint (default: derived from PILGRIM_ADDR)")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if *url == "" {
		addr := config.Load().Addr
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		*url = "http://" + addr + "/health"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return exitFailed
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return exitFailed
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return exitOK
}
