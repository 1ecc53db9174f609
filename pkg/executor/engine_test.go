package executor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

func upper() Step {
	return Named("upper", func(in []byte) ([]byte, error) { return bytes.ToUpper(in), nil })
}

func reverse() Step {
	return Named("reverse", func(in []byte) ([]byte, error) {
		out := make([]byte, len(in))
		for i, b := range in {
			out[len(in)-1-i] = b
		}
		return out, nil
	})
}

func exclaim() Step {
	return Named("exclaim", func(in []byte) ([]byte, error) { return append(append([]byte{}, in...), '!'), nil })
}

func bounded(steps uint32, runtimeMs uint64) intent.Constraints {
	return intent.Unbounded().WithMaxSteps(steps).WithMaxRuntimeMs(runtimeMs)
}

func TestRun_Deterministic(t *testing.T) {
	eng := New([]Step{upper(), reverse()})
	c := bounded(10, 100)

	a, err := eng.Run("run-1", "determinism-test", []byte("hello"), c, 5)
	require.NoError(t, err)
	b, err := eng.Run("run-1", "determinism-test", []byte("hello"), c, 5)
	require.NoError(t, err)

	assert.Equal(t, a.FinalTraceHash, b.FinalTraceHash)
	assert.Equal(t, a, b)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestRun_TraceChain(t *testing.T) {
	eng := New([]Step{upper(), reverse()})
	r, err := eng.Run("run-1", "d", []byte("hello"), intent.Unbounded(), 0)
	require.NoError(t, err)
	require.Len(t, r.Steps, 2)

	first := TraceEvent{
		StepIndex:     0,
		StepName:      "upper",
		InputHash:     canonicalize.HashBytes([]byte("hello")),
		OutputHash:    canonicalize.HashBytes([]byte("HELLO")),
		PrevTraceHash: canonicalize.Genesis,
	}
	h0, err := canonicalize.Fold(canonicalize.Genesis, first)
	require.NoError(t, err)
	assert.Equal(t, h0, r.Steps[0].TraceHash)
	assert.Equal(t, r.Steps[0].OutputHash, r.Steps[1].InputHash)
	assert.Equal(t, r.Steps[1].TraceHash, r.FinalTraceHash)

	assert.Equal(t, StatusCompleted, r.Output.Status)
	assert.Equal(t, canonicalize.HashBytes([]byte("OLLEH")), r.Output.OutputHash)
	assert.Equal(t, ResultToken(r.FinalTraceHash, r.Output.OutputHash), r.Output.ResultToken)
}

func TestRun_DifferentInputDifferentTrace(t *testing.T) {
	eng := New([]Step{upper()})
	a, err := eng.Run("run-1", "d", []byte("hello"), intent.Unbounded(), 0)
	require.NoError(t, err)
	b, err := eng.Run("run-1", "d", []byte("hellp"), intent.Unbounded(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.FinalTraceHash, b.FinalTraceHash)
}

func TestRun_EmptyPipeline(t *testing.T) {
	r, err := New(nil).Run("run-0", "d", []byte("x"), intent.Unbounded(), 0)
	require.NoError(t, err)
	assert.Equal(t, canonicalize.Genesis, r.FinalTraceHash)
	assert.Empty(t, r.Steps)
}

func TestRun_StepLimitExceeded(t *testing.T) {
	eng := New([]Step{upper(), reverse(), exclaim()})

	_, err := eng.Run("run-2", "d", []byte("hello"), bounded(2, 100), 0)
	require.Error(t, err)

	var limitErr *intent.StepLimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, uint32(2), limitErr.MaxSteps)
	assert.Equal(t, 2, limitErr.AttemptedStepIndex)
}

func TestRun_RuntimeLimitCheckedBeforeFirstStep(t *testing.T) {
	called := false
	probe := Named("probe", func(in []byte) ([]byte, error) {
		called = true
		return in, nil
	})
	eng := New([]Step{probe})

	_, err := eng.Run("run-3", "d", []byte("x"), bounded(10, 10), 10)
	require.NoError(t, err)
	called = false

	_, err = eng.Run("run-3", "d", []byte("x"), bounded(10, 10), 11)
	var rtErr *intent.RuntimeLimitExceededError
	require.True(t, errors.As(err, &rtErr))
	assert.Equal(t, uint64(10), rtErr.MaxRuntimeMs)
	assert.Equal(t, uint64(11), rtErr.ElapsedMs)
	assert.False(t, called, "no step may run once the runtime budget is exhausted")
}

func TestRun_StepFailureProducesNoReceipt(t *testing.T) {
	boom := Named("boom", func([]byte) ([]byte, error) { return nil, errors.New("cartridge exploded") })
	eng := New([]Step{upper(), boom, reverse()})

	r, err := eng.Run("run-4", "d", []byte("x"), intent.Unbounded(), 0)
	assert.Nil(t, r)
	require.ErrorIs(t, err, ErrStepFailed)

	var sf *StepFailedError
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "boom", sf.StepName)
	assert.Equal(t, "cartridge exploded", sf.Reason)
}

func TestNewChecked_RejectsDuplicates(t *testing.T) {
	_, err := NewChecked([]Step{upper(), upper()})
	assert.Error(t, err)

	_, err = NewChecked([]Step{upper(), nil})
	assert.Error(t, err)

	eng, err := NewChecked([]Step{upper(), reverse()})
	require.NoError(t, err)
	assert.Equal(t, []string{"upper", "reverse"}, eng.StepNames())
}

type guardedStep struct {
	Step
	id string
}

func (g guardedStep) CartridgeID() string { return g.id }

type allowList map[string]string

func (a allowList) Authorize(subject, action string) error {
	if a[subject] == action {
		return nil
	}
	return errors.New("denied")
}

func TestRun_AuthorizerGuardsCartridges(t *testing.T) {
	guarded := guardedStep{Step: upper(), id: "cognitive_drift_v1"}
	authz := allowList{"operator-1": "cognitive_drift_v1"}
	eng := New([]Step{guarded, reverse()}, WithAuthorizer(authz))

	_, err := eng.As("operator-1").Run("run-5", "d", []byte("x"), intent.Unbounded(), 0)
	require.NoError(t, err)

	_, err = eng.As("intruder").Run("run-5", "d", []byte("x"), intent.Unbounded(), 0)
	var sf *StepFailedError
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "upper", sf.StepName)
	assert.Equal(t, "denied", sf.Reason)
}

func TestRun_GuardedStepWithoutAuthorizerFailsClosed(t *testing.T) {
	eng := New([]Step{guardedStep{Step: upper(), id: "c"}})
	_, err := eng.Run("run-6", "d", []byte("x"), intent.Unbounded(), 0)
	assert.ErrorIs(t, err, ErrStepFailed)
}
