// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) encoding
// and the SHA-256 primitives every committed PILGRIM byte is derived from.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Encode returns the RFC 8785 canonical JSON representation of v.
//
// Struct field tags are honoured by an intermediate encoding/json pass. Every
// string (keys included) is normalized to Unicode NFC before the JCS transform,
// so visually identical text always hashes the same. HTML escaping is disabled.
func Encode(v any) ([]byte, error) {
	intermediate, err := marshalNoEscape(v)
	if err != nil {
		return nil, &EncodingError{Op: "marshal", Err: err}
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, &EncodingError{Op: "decode", Err: err}
	}

	normalized, err := normalize(generic)
	if err != nil {
		return nil, err
	}

	flat, err := marshalNoEscape(normalized)
	if err != nil {
		return nil, &EncodingError{Op: "remarshal", Err: err}
	}

	out, err := jcs.Transform(flat)
	if err != nil {
		return nil, &EncodingError{Op: "jcs", Err: err}
	}
	return out, nil
}

// EncodeString returns Encode(v) as a string.
func EncodeString(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			nk := norm.NFC.String(k)
			if _, dup := out[nk]; dup {
				return nil, &EncodingError{Op: "normalize", Err: fmt.Errorf("keys collide after NFC normalization: %q", nk)}
			}
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[nk] = n
		}
		return out, nil
	default:
		// nil, bool, json.Number
		return t, nil
	}
}
