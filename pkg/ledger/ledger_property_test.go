//go:build property

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ChainIntegrity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appended ledgers always verify", prop.ForAll(
		func(payloads []string) bool {
			ctx := context.Background()
			led := NewMemory()
			for _, p := range payloads {
				if _, err := led.Append(ctx, "event", p); err != nil {
					return false
				}
			}
			return led.Verify(ctx)
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("tampering any payload is located exactly", prop.ForAll(
		func(payloads []string, pick int) bool {
			ctx := context.Background()
			backend := tamperBackend{NewMemoryBackend()}
			led := New(backend)
			for _, p := range payloads {
				if _, err := led.Append(ctx, "event", p); err != nil {
					return false
				}
			}
			i := pick % len(payloads)
			backend.mutate(i, func(r *Record) { r.PayloadJSON += " " })

			var broken *ChainBrokenError
			err := led.Check(ctx)
			return errors.As(err, &broken) && broken.Index == uint64(i)
		},
		gen.SliceOfN(8, gen.AlphaString()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
