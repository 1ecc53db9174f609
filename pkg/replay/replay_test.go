package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/cartridge"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/mandate"
)

func sampleIntent(id string) intent.Intent {
	return intent.Intent{
		IntentID:      id,
		CreatedUnixMs: 1700000000000,
		Statement:     "replay me",
		Inputs:        []intent.Datum{{Key: "k", Value: "v"}},
		Constraints:   intent.DefaultConstraints(),
		Nonce:         7,
	}
}

// writeLedger drives the attestation service against a file ledger: two
// completed runs and one tampered envelope.
func writeLedger(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	eng, err := attest.NewEngine(cartridge.Default(), []cartridge.Ref{{Name: cartridge.StepNFC}, {Name: cartridge.StepDigest}}, mandate.MustNew(nil))
	require.NoError(t, err)
	svc, err := attest.New(eng, ledger.New(ledger.NewFileBackend(path)))
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"intent-a", "intent-b"} {
		env, err := svc.Seal(sampleIntent(id))
		require.NoError(t, err)
		_, err = svc.Submit(ctx, "alice", env)
		require.NoError(t, err)
	}
	env, err := svc.Seal(sampleIntent("intent-c"))
	require.NoError(t, err)
	env.Intent.Statement = "tampered"
	_, err = svc.Submit(ctx, "alice", env)
	require.NoError(t, err)
	return path
}

func TestFromFile_ValidLedger(t *testing.T) {
	result, err := FromFile(writeLedger(t))
	require.NoError(t, err)

	assert.True(t, result.OK(), "%+v", result)
	assert.Equal(t, 3, result.TotalRecords)
	assert.Equal(t, 3, result.HashesVerified)
	assert.Equal(t, 2, result.ReceiptsChecked)
	assert.Equal(t, 2, result.Summary[attest.KindReceipt])
	assert.Equal(t, 1, result.Summary[attest.KindRejection])
	assert.Nil(t, result.FirstBreakIndex)
	assert.NotEmpty(t, result.HeadRecordHash)
}

func TestReplay_TamperedPayloadIsLocalised(t *testing.T) {
	path := writeLedger(t)
	records, err := ledger.NewFileBackend(path).Load(context.Background())
	require.NoError(t, err)

	records[1].PayloadJSON = strings.Replace(records[1].PayloadJSON, "alice", "mallory", 1)
	result := Replay(records)

	assert.False(t, result.ValidChain)
	require.NotNil(t, result.FirstBreakIndex)
	assert.Equal(t, uint64(1), *result.FirstBreakIndex)
	assert.Len(t, result.HashMismatches, 1)
	assert.Equal(t, 2, result.HashesVerified)
	assert.Empty(t, result.ChainBreaks, "record 2 still links to the stored hash of record 1")
}

func TestReplay_BrokenLink(t *testing.T) {
	path := writeLedger(t)
	records, err := ledger.NewFileBackend(path).Load(context.Background())
	require.NoError(t, err)

	records = append(records[:1], records[2:]...)
	result := Replay(records)

	assert.False(t, result.ValidChain)
	assert.Len(t, result.ChainBreaks, 2, "index and prev_hash both break at the gap")
	assert.Empty(t, result.HashMismatches)
}

func TestFromReader_NonCanonicalLine(t *testing.T) {
	raw, err := os.ReadFile(writeLedger(t))
	require.NoError(t, err)

	lines := bytes.SplitAfter(raw, []byte("\n"))
	var rec ledger.Record
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	pretty, err := json.MarshalIndent(rec, "", "")
	require.NoError(t, err)
	lines[0] = append(bytes.ReplaceAll(pretty, []byte("\n"), nil), '\n')

	result, err := FromReader(bytes.NewReader(bytes.Join(lines, nil)))
	require.NoError(t, err)
	assert.True(t, result.ValidChain)
	assert.Len(t, result.NonCanonical, 1)
	assert.False(t, result.OK())
}

func TestFromReader_Garbage(t *testing.T) {
	_, err := FromReader(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestReplay_Empty(t *testing.T) {
	result := Replay(nil)
	assert.True(t, result.OK())
	assert.Equal(t, 0, result.TotalRecords)
}

func TestReplay_DuplicateRunIDs(t *testing.T) {
	receipt := execute(t)
	payload, err := json.Marshal(attest.ReceiptRecord{IntentID: "x", Subject: "alice", Receipt: receipt})
	require.NoError(t, err)

	l := ledger.NewMemory()
	ctx := context.Background()
	_, err = l.AppendRaw(ctx, attest.KindReceipt, payload)
	require.NoError(t, err)
	_, err = l.AppendRaw(ctx, attest.KindReceipt, payload)
	require.NoError(t, err)
	records, err := l.Records(ctx)
	require.NoError(t, err)

	result := Replay(records)
	assert.True(t, result.ValidChain)
	assert.Equal(t, []string{receipt.RunID}, result.DuplicateRunIDs)
}
