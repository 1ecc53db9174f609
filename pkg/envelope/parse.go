package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

type wireEnvelope struct {
	Protocol string          `json:"protocol"`
	Intent   json.RawMessage `json:"intent"`
	Checksum Checksum        `json:"checksum"`
}

// Parse decodes a transport payload into an Envelope. Unknown fields, trailing
// data, and intents failing the schema are rejected as BadJson. Parse does not
// verify the checksum; call Verify on the result.
func Parse(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := decodeStrict(data, &w); err != nil {
		return nil, badJSON(err)
	}
	if len(w.Intent) == 0 {
		return nil, badJSON(errors.New("intent is required"))
	}
	if err := intent.ValidateJSON(w.Intent); err != nil {
		return nil, badJSON(err)
	}

	var in intent.Intent
	if err := decodeStrict(w.Intent, &in); err != nil {
		return nil, badJSON(err)
	}
	return &Envelope{Protocol: w.Protocol, Intent: in, Checksum: w.Checksum}, nil
}

// ParseIntent decodes and validates a bare intent document.
func ParseIntent(data []byte) (intent.Intent, error) {
	if err := intent.ValidateJSON(data); err != nil {
		return intent.Intent{}, badJSON(err)
	}
	var in intent.Intent
	if err := decodeStrict(data, &in); err != nil {
		return intent.Intent{}, badJSON(err)
	}
	return in, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return errors.New("trailing data")
}
