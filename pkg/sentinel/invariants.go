package sentinel

// Class is the kind of property an invariant constrains.
type Class string

const (
	ClassSchema       Class = "schema"
	ClassValue        Class = "value"
	ClassTransition   Class = "transition"
	ClassTemporal     Class = "temporal"
	ClassDistribution Class = "distribution"
)

// Valid reports whether c is a declared class.
func (c Class) Valid() bool {
	switch c {
	case ClassSchema, ClassValue, ClassTransition, ClassTemporal, ClassDistribution:
		return true
	}
	return false
}

// Spec declares an invariant. It carries no execution logic.
type Spec struct {
	ID          string `json:"id" yaml:"id"`
	Class       Class  `json:"class" yaml:"class"`
	Domain      string `json:"domain" yaml:"domain"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// System invariant domains.
const (
	DomainTruth        = "truth"
	DomainDeterminism  = "determinism"
	DomainAgency       = "agency"
	DomainTransparency = "transparency"
	DomainSafety       = "safety"
)

// SystemInvariants returns the non-negotiable invariants every registry starts with.
func SystemInvariants() []Spec {
	return []Spec{
		{ID: "TRUTH_001", Class: ClassValue, Domain: DomainTruth,
			Description: "All outputs must be derivable from explicit inputs and declared logic."},
		{ID: "TRUTH_002", Class: ClassValue, Domain: DomainTruth,
			Description: "No hidden assumptions, priors, or inferred intent may influence output."},
		{ID: "DET_001", Class: ClassValue, Domain: DomainDeterminism,
			Description: "Identical inputs under identical state must produce identical outputs."},
		{ID: "DET_002", Class: ClassValue, Domain: DomainDeterminism,
			Description: "System behaviour must not vary based on user identity, emotion, or inferred state."},
		{ID: "AGENCY_001", Class: ClassTransition, Domain: DomainAgency,
			Description: "The system must never persuade, coerce, or nudge a user toward an outcome."},
		{ID: "AGENCY_002", Class: ClassTransition, Domain: DomainAgency,
			Description: "All decisions remain with the user; the system provides information only."},
		{ID: "TRANS_001", Class: ClassSchema, Domain: DomainTransparency,
			Description: "All system outputs must be explainable and auditable."},
		{ID: "TRANS_002", Class: ClassTransition, Domain: DomainTransparency,
			Description: "No internal state may affect output without being inspectable by design."},
		{ID: "SAFE_001", Class: ClassValue, Domain: DomainSafety,
			Description: "The system must fail closed rather than speculate or hallucinate."},
		{ID: "SAFE_002", Class: ClassSchema, Domain: DomainSafety,
			Description: "Absence of data must result in explicit uncertainty, not inferred completion."},
	}
}
