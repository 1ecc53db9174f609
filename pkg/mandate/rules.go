package mandate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a mandate.
//
//	rules:
//	  - subject_id: ernesto_lopez
//	    cartridge_id: cognitive_drift_v1
//	policies:
//	  - name: operators
//	    expr: subject.startsWith("op-")
type Document struct {
	Rules    []Rule   `yaml:"rules"`
	Policies []Policy `yaml:"policies"`
}

// ParseRules decodes a YAML mandate document.
func ParseRules(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("mandate: parse rules: %w", err)
	}
	for i, r := range doc.Rules {
		if r.SubjectID == "" || r.CartridgeID == "" {
			return Document{}, fmt.Errorf("mandate: rule %d: subject_id and cartridge_id are required", i)
		}
	}
	return doc, nil
}

// LoadRules reads a YAML mandate document from path and builds the Mandate.
func LoadRules(path string) (*Mandate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mandate: read %s: %w", path, err)
	}
	doc, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return New(doc.Rules, doc.Policies...)
}
