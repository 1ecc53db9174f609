package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/cartridge"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

func execute(t *testing.T) *executor.Receipt {
	t.Helper()
	steps, err := cartridge.Default().Pipeline([]cartridge.Ref{{Name: cartridge.StepNFC}, {Name: cartridge.StepDigest}})
	require.NoError(t, err)
	r, err := executor.New(steps).Execute(sampleIntent("intent-r"))
	require.NoError(t, err)
	return r
}

func TestCheckReceipt_Clean(t *testing.T) {
	assert.Empty(t, CheckReceipt(execute(t)))
}

func TestCheckReceipt_Issues(t *testing.T) {
	cases := map[string]func(r *executor.Receipt){
		"step index":   func(r *executor.Receipt) { r.Steps[1].StepIndex = 5 },
		"trace fold":   func(r *executor.Receipt) { r.Steps[0].TraceHash = r.Steps[1].TraceHash },
		"final trace":  func(r *executor.Receipt) { r.FinalTraceHash = r.Steps[0].TraceHash },
		"output hash":  func(r *executor.Receipt) { r.Output.OutputHash = r.Steps[0].OutputHash },
		"step input":   func(r *executor.Receipt) { r.Steps[1].InputHash = canonicalize.HashBytes([]byte("x")) },
		"status":       func(r *executor.Receipt) { r.Output.Status = "failed" },
		"result token": func(r *executor.Receipt) { r.Output.ResultToken = r.FinalTraceHash },
		"elapsed":      func(r *executor.Receipt) { r.ElapsedMs = 3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := execute(t)
			mutate(r)
			assert.NotEmpty(t, CheckReceipt(r))
		})
	}
}
