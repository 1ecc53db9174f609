package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_RoundTripVerifies(t *testing.T) {
	resp, err := NewResponse("intent-0001", StatusAccepted, "Accepted by deterministic core.")
	require.NoError(t, err)
	require.NoError(t, resp.Verify())
	assert.Nil(t, resp.PayloadJSON)
}

func TestResponse_PayloadCovered(t *testing.T) {
	resp, err := NewResponse("intent-0001", StatusCompleted, "done",
		WithPayloadJSON(`{"run_id":"r"}`), WithLogsJSON(`[]`))
	require.NoError(t, err)
	require.NoError(t, resp.Verify())

	tampered := `{"run_id":"x"}`
	resp.PayloadJSON = &tampered
	assert.ErrorIs(t, resp.Verify(), ErrChecksumMismatch)
}

func TestResponse_StatusTamper(t *testing.T) {
	resp, err := NewResponse("intent-0001", StatusFailed, "step failed")
	require.NoError(t, err)

	resp.Status = StatusCompleted
	assert.ErrorIs(t, resp.Verify(), ErrChecksumMismatch)
}

func TestResponse_ProtocolMismatch(t *testing.T) {
	resp, err := NewResponse("intent-0001", StatusIdle, "")
	require.NoError(t, err)

	resp.Protocol = "other"
	assert.ErrorIs(t, resp.Verify(), ErrProtocolMismatch)
}
