package intent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"
)

//go:embed intent.schema.json
var intentSchema string

const intentSchemaURL = "https://pilgrim.schemas.local/intent.schema.json"

// Validation error codes.
const (
	ErrIntentMissingField   = "ERR_INTENT_MISSING_FIELD"
	ErrIntentInvalidPrivacy = "ERR_INTENT_INVALID_PRIVACY"
	ErrIntentSchema         = "ERR_INTENT_SCHEMA"
	ErrIntentOutOfRange     = "ERR_INTENT_OUT_OF_RANGE"
	ErrIntentNotNFC         = "ERR_INTENT_NOT_NFC"
)

// MaxSafeInteger bounds every integer field. Canonical JSON renders numbers
// as IEEE doubles, so larger values would not survive a round trip.
const MaxSafeInteger = 1<<53 - 1

// ErrInvalid matches every *ValidationError.
var ErrInvalid = errors.New("invalid intent")

// ValidationError describes why an intent was rejected before sealing.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(intentSchemaURL, bytes.NewReader([]byte(intentSchema))); err != nil {
			schemaErr = fmt.Errorf("intent schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(intentSchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("intent schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ValidateJSON checks a raw intent document against the embedded JSON Schema.
func ValidateJSON(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Code: ErrIntentSchema, Message: fmt.Sprintf("not json: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Code: ErrIntentSchema, Message: err.Error()}
	}
	return nil
}

// Validate applies the structural rules to an already-decoded intent.
func Validate(in Intent) error {
	if in.IntentID == "" {
		return &ValidationError{Code: ErrIntentMissingField, Message: "intent_id is required", Field: "intent_id"}
	}
	if in.Statement == "" {
		return &ValidationError{Code: ErrIntentMissingField, Message: "statement is required", Field: "statement"}
	}
	for i, d := range in.Inputs {
		if d.Key == "" {
			return &ValidationError{Code: ErrIntentMissingField, Message: "input key is required", Field: fmt.Sprintf("inputs[%d].key", i)}
		}
	}
	if err := CheckNormalized(in); err != nil {
		return err
	}
	if in.Nonce > MaxSafeInteger {
		return &ValidationError{Code: ErrIntentOutOfRange, Message: "nonce exceeds 2^53-1", Field: "nonce"}
	}
	if in.CreatedUnixMs > MaxSafeInteger {
		return &ValidationError{Code: ErrIntentOutOfRange, Message: "created_unix_ms exceeds 2^53-1", Field: "created_unix_ms"}
	}
	if m := in.Constraints.MaxRuntimeMs; m != nil && *m > MaxSafeInteger {
		return &ValidationError{Code: ErrIntentOutOfRange, Message: "max_runtime_ms exceeds 2^53-1", Field: "constraints.max_runtime_ms"}
	}
	if !in.Constraints.Privacy.Valid() {
		return &ValidationError{
			Code:    ErrIntentInvalidPrivacy,
			Message: fmt.Sprintf("unknown privacy tier %q", in.Constraints.Privacy),
			Field:   "constraints.privacy",
		}
	}
	return nil
}

// CheckNormalized rejects an intent carrying any string not already in NFC.
// Canonical encoding normalizes strings, so a non-NFC value would hash the
// same as its NFC twin while carrying different bytes.
func CheckNormalized(in Intent) error {
	if field, ok := firstDenormalized(in); !ok {
		return &ValidationError{Code: ErrIntentNotNFC, Message: "string is not in Unicode NFC form", Field: field}
	}
	return nil
}

// firstDenormalized names the first string field that is not already NFC.
func firstDenormalized(in Intent) (string, bool) {
	if !norm.NFC.IsNormalString(in.IntentID) {
		return "intent_id", false
	}
	if !norm.NFC.IsNormalString(in.Statement) {
		return "statement", false
	}
	if in.Operator != nil && !norm.NFC.IsNormalString(*in.Operator) {
		return "operator", false
	}
	for i, d := range in.Inputs {
		if !norm.NFC.IsNormalString(d.Key) {
			return fmt.Sprintf("inputs[%d].key", i), false
		}
		if !norm.NFC.IsNormalString(d.Value) {
			return fmt.Sprintf("inputs[%d].value", i), false
		}
	}
	return "", true
}
