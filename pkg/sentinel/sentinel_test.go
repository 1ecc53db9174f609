package sentinel

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
)

type state struct {
	Counter int    `json:"counter"`
	Name    string `json:"name"`
}

var transSpec = Spec{ID: "TRANS_002", Class: ClassTransition, Domain: DomainTransparency}

func TestSentinel_EqualFingerprintsWriteNothing(t *testing.T) {
	mirror := ledger.NewMemory()
	drift := NewDriftLedger(mirror)
	s := New(ModeDetect, drift)

	tok, err := s.Before(state{Counter: 1, Name: "a"}, "counter")
	require.NoError(t, err)
	out, err := s.After(context.Background(), tok, state{Counter: 1, Name: "a"}, DomainTransparency, transSpec)
	require.NoError(t, err)

	assert.Equal(t, Continue, out.Verdict)
	assert.Equal(t, tok.Fingerprint(), out.Token.Fingerprint())
	assert.Nil(t, out.Event)
	assert.Equal(t, 0, drift.Len())

	records, err := mirror.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSentinel_FingerprintIsContentHash(t *testing.T) {
	s := New(ModeDetect, nil)
	a, err := s.Before(map[string]int{"x": 1, "y": 2}, "m")
	require.NoError(t, err)
	b, err := s.Before(struct {
		Y int `json:"y"`
		X int `json:"x"`
	}{2, 1}, "m")
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestSentinel_DetectRecordsExactlyOneEvent(t *testing.T) {
	ctx := context.Background()
	mirror := ledger.NewMemory()
	drift := NewDriftLedger(mirror)
	s := New(ModeDetect, drift)

	tok, err := s.Before(state{Counter: 1}, "counter")
	require.NoError(t, err)
	out, err := s.After(ctx, tok, state{Counter: 2}, DomainTransparency, transSpec)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	var v *InvariantViolation
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "TRANS_002", v.Event.InvariantID)
	assert.Equal(t, ClassTransition, v.Event.Class)
	assert.Equal(t, tok.Fingerprint(), v.Event.BeforeFingerprint)
	assert.NotEqual(t, v.Event.BeforeFingerprint, v.Event.AfterFingerprint)

	assert.Equal(t, Halt, out.Verdict)
	require.NotNil(t, out.Event)
	assert.Equal(t, 1, drift.Len())

	records, err := mirror.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, LedgerKindDrift, records[0].Kind)
	assert.True(t, mirror.Verify(ctx))
}

func TestDriftLedger_Chains(t *testing.T) {
	ctx := context.Background()
	d := NewDriftLedger(nil)
	first, err := d.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "1", AfterFingerprint: "2"})
	require.NoError(t, err)
	second, err := d.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "2", AfterFingerprint: "3"})
	require.NoError(t, err)

	assert.Empty(t, first.PrevEventHash)
	assert.Equal(t, first.EventHash, second.PrevEventHash)
	assert.Equal(t, uint64(1), second.Seq)
	require.NoError(t, d.Verify())

	events := d.Events()
	events[0].AfterFingerprint = "tampered"
	assert.Error(t, VerifyDriftChain(events))
	require.NoError(t, d.Verify(), "Events returns a copy")
}

func TestDriftLedger_ChainSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	before := NewDriftLedger(ledger.New(ledger.NewFileBackend(path)))
	ev1, err := before.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "1", AfterFingerprint: "2"})
	require.NoError(t, err)

	mirror := ledger.New(ledger.NewFileBackend(path))
	_, err = mirror.Append(ctx, "receipt", map[string]string{"run_id": "r#1"})
	require.NoError(t, err)

	after := NewDriftLedger(mirror)
	require.NoError(t, after.Load(ctx))
	assert.Equal(t, 1, after.Len())

	ev2, err := after.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "2", AfterFingerprint: "3"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev2.Seq)
	assert.Equal(t, ev1.EventHash, ev2.PrevEventHash)
	require.NoError(t, after.Verify())
	assert.True(t, mirror.Verify(ctx))
}

func TestDriftLedger_RecordSeesOtherWriters(t *testing.T) {
	ctx := context.Background()
	mirror := ledger.NewMemory()
	a, b := NewDriftLedger(mirror), NewDriftLedger(mirror)

	first, err := a.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "1", AfterFingerprint: "2"})
	require.NoError(t, err)
	second, err := b.Record(ctx, DriftEvent{Domain: "a", InvariantID: "X", Class: ClassValue, BeforeFingerprint: "2", AfterFingerprint: "3"})
	require.NoError(t, err)

	assert.Equal(t, first.EventHash, second.PrevEventHash)
	assert.Len(t, b.Events(), 2)
}

func TestSentinel_EnforceNeverReturns(t *testing.T) {
	dir := t.TempDir()
	halted := make(chan HaltRecord, 1)
	halter := HalterFunc(func(rec HaltRecord) {
		halted <- rec
		runtime.Goexit()
	})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(ModeEnforce, NewDriftLedger(nil), WithHalter(halter), WithHaltDir(dir), WithClock(func() time.Time { return fixed }))

	returned := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tok, err := s.Before(state{Counter: 1}, "counter")
		if err != nil {
			return
		}
		_, _ = s.After(context.Background(), tok, state{Counter: 2}, DomainTransparency, transSpec)
		close(returned)
	}()
	<-done

	select {
	case <-returned:
		t.Fatal("After returned normally in enforce mode")
	default:
	}

	rec := <-halted
	assert.Equal(t, "TRANS_002", rec.InvariantID)
	assert.Equal(t, fixed, rec.Timestamp)

	onDisk, err := ReadHaltRecord(dir)
	require.NoError(t, err)
	require.NotNil(t, onDisk)
	assert.Equal(t, rec.EventHash, onDisk.EventHash)
	assert.Equal(t, 1, s.Drift().Len(), "the event is recorded before halting")
}

func TestSentinel_EnforceHalterReturnsHaltedError(t *testing.T) {
	s := New(ModeEnforce, nil, WithHalter(HalterFunc(func(HaltRecord) {})))
	tok, err := s.Before(1, "n")
	require.NoError(t, err)

	out, err := s.After(context.Background(), tok, 2, DomainSafety, Spec{ID: "SAFE_001", Class: ClassValue})
	assert.Equal(t, Halt, out.Verdict)
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestSentinel_RegistryRejectsUnknownSpec(t *testing.T) {
	s := New(ModeDetect, nil, WithRegistry(NewSystemRegistry()))
	tok, err := s.Before(1, "n")
	require.NoError(t, err)

	_, err = s.After(context.Background(), tok, 1, "x", Spec{ID: "MISSING", Class: ClassValue})
	assert.ErrorIs(t, err, ErrUnknownInvariant)
}

func TestSentinel_BeforeRejectsUnencodable(t *testing.T) {
	_, err := New(ModeDetect, nil).Before(make(chan int), "chan")
	assert.Error(t, err)
}

func TestProtect(t *testing.T) {
	ctx := context.Background()
	s := New(ModeDetect, nil)

	st := &state{Counter: 1}
	out, err := s.Protect(ctx, st, "counter", DomainTransparency, transSpec, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Continue, out.Verdict)

	out, err = s.Protect(ctx, st, "counter", DomainTransparency, transSpec, func() error {
		st.Counter++
		return nil
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, Halt, out.Verdict)

	opErr := errors.New("op failed")
	_, err = s.Protect(ctx, st, "counter", DomainTransparency, transSpec, func() error { return opErr })
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, 1, s.Drift().Len())
}

func TestReadHaltRecord_Absent(t *testing.T) {
	rec, err := ReadHaltRecord(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("detect")
	require.NoError(t, err)
	assert.Equal(t, ModeDetect, m)
	_, err = ParseMode("lax")
	assert.Error(t, err)
}
