package canonicalize

import (
	"bytes"
	"encoding/json"
	"testing"

	"golang.org/x/text/unicode/norm"
)

// FuzzEncode checks that canonical output is stable, parseable, a fixed point
// of Encode and free of unnormalised strings.
func FuzzEncode(f *testing.F) {
	for _, seed := range []string{
		`{}`,
		`{"b":2,"a":1}`,
		`{"intent_id":"run-1","inputs":[{"key":"alpha","value":"1"}],"nonce":7}`,
		`{"statement":"<b>&amp;</b>","privacy":"Sealed"}`,
		`{"n":1e21,"m":-0.000001,"z":0}`,
		`{"cafe":"Café","kana":"ガ"}`,
		`[null,true," "]`,
	} {
		f.Add([]byte(seed))
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if json.Unmarshal(data, &v) != nil {
			t.Skip()
		}
		first, err := Encode(v)
		if err != nil {
			return
		}
		second, err := Encode(v)
		if err != nil || !bytes.Equal(first, second) {
			t.Fatalf("Encode unstable: %q vs %q (%v)", first, second, err)
		}

		var parsed any
		if err := json.Unmarshal(first, &parsed); err != nil {
			t.Fatalf("canonical output %q does not parse: %v", first, err)
		}
		again, err := Encode(parsed)
		if err != nil || !bytes.Equal(again, first) {
			t.Fatalf("canonical form is not a fixed point: %q -> %q (%v)", first, again, err)
		}
		if !norm.NFC.IsNormal(first) {
			t.Fatalf("canonical output %q is not NFC", first)
		}
		if HashBytes(first) != HashBytes(again) {
			t.Fatal("hash differs for identical canonical bytes")
		}
	})
}
