package envelope

import (
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// RunStatus is the lifecycle state reported back to the caller.
type RunStatus string

const (
	StatusIdle      RunStatus = "Idle"
	StatusAccepted  RunStatus = "Accepted"
	StatusRejected  RunStatus = "Rejected"
	StatusRunning   RunStatus = "Running"
	StatusCompleted RunStatus = "Completed"
	StatusFailed    RunStatus = "Failed"
)

// Response is the sealed reply contract. It carries no engine logic.
type Response struct {
	Protocol string    `json:"protocol"`
	IntentID string    `json:"intent_id"`
	Status   RunStatus `json:"status"`
	// Message is short and safe to show in a UI.
	Message     string   `json:"message"`
	PayloadJSON *string  `json:"payload_json"`
	LogsJSON    *string  `json:"logs_json"`
	Checksum    Checksum `json:"checksum"`
}

type responseFields struct {
	Protocol    string    `json:"protocol"`
	IntentID    string    `json:"intent_id"`
	Status      RunStatus `json:"status"`
	Message     string    `json:"message"`
	PayloadJSON *string   `json:"payload_json"`
	LogsJSON    *string   `json:"logs_json"`
}

// ResponseOption customizes a Response before it is sealed.
type ResponseOption func(*Response)

// WithPayloadJSON attaches a machine payload.
func WithPayloadJSON(payload string) ResponseOption {
	return func(r *Response) { r.PayloadJSON = &payload }
}

// WithLogsJSON attaches a canonical logs reference.
func WithLogsJSON(logs string) ResponseOption {
	return func(r *Response) { r.LogsJSON = &logs }
}

// NewResponse builds and seals a response.
func NewResponse(intentID string, status RunStatus, message string, opts ...ResponseOption) (*Response, error) {
	r := &Response{
		Protocol: ProtocolVersion,
		IntentID: intentID,
		Status:   status,
		Message:  message,
		Checksum: Checksum{Algo: canonicalize.Algo},
	}
	for _, opt := range opts {
		opt(r)
	}
	sum, err := r.computeChecksum()
	if err != nil {
		return nil, err
	}
	r.Checksum.Hex = sum
	return r, nil
}

func (r *Response) computeChecksum() (string, error) {
	sum, err := canonicalize.Hash(responseFields{
		Protocol:    r.Protocol,
		IntentID:    r.IntentID,
		Status:      r.Status,
		Message:     r.Message,
		PayloadJSON: r.PayloadJSON,
		LogsJSON:    r.LogsJSON,
	})
	if err != nil {
		return "", fmt.Errorf("response checksum: %w", err)
	}
	return sum, nil
}

// Verify applies the same rules as Envelope.Verify.
func (r *Response) Verify() error {
	if r.Protocol != ProtocolVersion {
		return &HandshakeError{Kind: KindProtocolMismatch, Expected: ProtocolVersion, Got: r.Protocol}
	}
	if err := checkFormat(r.Checksum); err != nil {
		return err
	}
	sum, err := r.computeChecksum()
	if err != nil {
		return badJSON(err)
	}
	if sum != r.Checksum.Hex {
		return &HandshakeError{Kind: KindChecksumMismatch}
	}
	return nil
}
