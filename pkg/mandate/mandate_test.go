package mandate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMandate_StaticRules(t *testing.T) {
	m := MustNew([]Rule{{SubjectID: "ernesto_lopez", CartridgeID: "cognitive_drift_v1"}})

	assert.True(t, m.Allows("ernesto_lopez", "cognitive_drift_v1"))
	assert.NoError(t, m.Enforce("ernesto_lopez", "cognitive_drift_v1"))
	assert.False(t, m.Allows("ernesto_lopez", "threshold_ambiguity_v1"))
	assert.False(t, m.Allows("someone", "cognitive_drift_v1"))
}

func TestMandate_EmptyDeniesEverything(t *testing.T) {
	m := MustNew(nil)
	err := m.Enforce("ernesto_lopez", "cognitive_drift_v1")

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "ernesto_lopez", denied.SubjectID)
	assert.Equal(t, VerdictDeny, denied.Verdict)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestMandate_Policies(t *testing.T) {
	m, err := New(nil,
		Policy{Name: "operators", Expr: `subject.startsWith("op-") && action != "memory_seal_v1"`},
	)
	require.NoError(t, err)

	c := m.Decide("op-7", "cognitive_drift_v1")
	assert.Equal(t, VerdictAllow, c.Verdict)
	assert.Equal(t, "policy operators", c.Reason)

	assert.Equal(t, VerdictDeny, m.Decide("op-7", "memory_seal_v1").Verdict)
	assert.Equal(t, VerdictDeny, m.Decide("guest", "cognitive_drift_v1").Verdict)
}

func TestMandate_PolicyRuntimeErrorFailsClosed(t *testing.T) {
	m, err := New(nil, Policy{Name: "numeric", Expr: `int(subject) > 0`})
	require.NoError(t, err)

	c := m.Decide("not-a-number", "cognitive_drift_v1")
	assert.Equal(t, VerdictReview, c.Verdict)

	err = m.Enforce("not-a-number", "cognitive_drift_v1")
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, VerdictReview, denied.Verdict)

	assert.True(t, m.Allows("42", "cognitive_drift_v1"))
}

func TestMandate_PolicyCompileErrors(t *testing.T) {
	_, err := New(nil, Policy{Name: "broken", Expr: `subject ==`})
	assert.Error(t, err)
	_, err = New(nil, Policy{Name: "non-bool", Expr: `subject + action`})
	assert.Error(t, err)
	_, err = New(nil, Policy{Expr: `true`})
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mandate.yaml")
	doc := `
rules:
  - subject_id: ernesto_lopez
    cartridge_id: cognitive_drift_v1
policies:
  - name: auditors
    expr: subject == "auditor" && action.endsWith("_v1")
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m, err := LoadRules(path)
	require.NoError(t, err)
	assert.True(t, m.Allows("ernesto_lopez", "cognitive_drift_v1"))
	assert.True(t, m.Allows("auditor", "neuro_discordance_v1"))
	assert.False(t, m.Allows("auditor", "digest"))
	assert.Len(t, m.Rules(), 1)
}

func TestParseRules_RequiresFields(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - subject_id: x\n"))
	assert.Error(t, err)
	_, err = ParseRules([]byte("rules: [unterminated"))
	assert.Error(t, err)
}
