package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/api"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/envelope"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

// readInput reads path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

// runSealCmd implements `pilgrim seal`: intent JSON in, sealed envelope out.
func runSealCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	in := cmd.String("in", "-", "Intent JSON file, or - for stdin")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	data, err := readInput(*in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	parsed, err := envelope.ParseIntent(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	if err := intent.Validate(parsed); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	env, err := envelope.Seal(parsed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	printJSON(stdout, env)
	return exitOK
}

// runVerifyCmd implements `pilgrim verify`.
//
// Exit codes:
//
//	0 = envelope verifies
//	1 = checksum or protocol check failed, or input is not an envelope
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	in := cmd.String("in", "-", "Envelope JSON file, or - for stdin")
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	data, err := readInput(*in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	result := api.VerifyResult{OK: true}
	env, err := envelope.Parse(data)
	if err == nil {
		err = env.Verify()
	}
	if err != nil {
		result = api.VerifyResult{Error: err.Error(), Code: attest.ErrorCode(err)}
	} else {
		result.Checksum = env.Checksum.Hex
	}

	switch {
	case *jsonOutput:
		printJSON(stdout, result)
	case result.OK:
		_, _ = fmt.Fprintf(stdout, "%s✅ envelope verified%s %s\n", ColorGreen, ColorReset, result.Checksum)
	default:
		_, _ = fmt.Fprintf(stdout, "%s❌ %s%s: %s\n", ColorRed, result.Code, ColorReset, result.Error)
	}
	if !result.OK {
		return exitFailed
	}
	return exitOK
}

// runRunCmd implements `pilgrim run`: submit an envelope as subject and print
// the sealed response. Only a Completed response exits 0.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	in := cmd.String("in", "-", "Envelope JSON file, or - for stdin")
	subject := cmd.String("subject", "local", "Mandate subject the run executes as")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	data, err := readInput(*in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		resp, err := rt.svc.SubmitJSON(ctx, *subject, data)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		printJSON(stdout, resp)
		if resp.Status != envelope.StatusCompleted {
			return exitFailed
		}
		return exitOK
	})
}

// runReceiptVerifyCmd implements `pilgrim receipt verify`.
func runReceiptVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipt verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	receiptPath := cmd.String("receipt", "", "Receipt JSON file (REQUIRED)")
	intentPath := cmd.String("intent", "", "Intent JSON file (REQUIRED)")
	subject := cmd.String("subject", "local", "Subject the original run executed as")
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if *receiptPath == "" || *intentPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt and --intent are required")
		return exitUsage
	}

	var receipt executor.Receipt
	raw, err := os.ReadFile(*receiptPath)
	if err == nil {
		err = json.Unmarshal(raw, &receipt)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: receipt: %v\n", err)
		return exitUsage
	}
	raw, err = os.ReadFile(*intentPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: intent: %v\n", err)
		return exitUsage
	}
	in, err := envelope.ParseIntent(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: intent: %v\n", err)
		return exitUsage
	}

	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		result := api.ReceiptVerifyResult{OK: true}
		if err := rt.svc.VerifyReceipt(ctx, *subject, &receipt, in); err != nil {
			result = api.ReceiptVerifyResult{Error: err.Error()}
			var verr *executor.VerificationError
			if errors.As(err, &verr) {
				result.Reason = string(verr.Reason)
			}
		}

		switch {
		case *jsonOutput:
			printJSON(stdout, result)
		case result.OK:
			_, _ = fmt.Fprintf(stdout, "%s✅ receipt %s reproduces%s\n", ColorGreen, receipt.RunID, ColorReset)
		default:
			_, _ = fmt.Fprintf(stdout, "%s❌ receipt %s does not reproduce%s: %s\n", ColorRed, receipt.RunID, ColorReset, result.Error)
		}
		if !result.OK {
			return exitFailed
		}
		return exitOK
	})
}
