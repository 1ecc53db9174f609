// Package mandate decides who may execute which cartridge.
//
// Static rules grant exact (subject, cartridge) pairs. CEL policies extend
// them; a policy that fails to evaluate yields Review, which is not a grant.
package mandate

import (
	"errors"
	"fmt"
)

// Verdict is the outcome of a mandate decision.
type Verdict string

const (
	VerdictAllow  Verdict = "Allow"
	VerdictDeny   Verdict = "Deny"
	VerdictReview Verdict = "Review"
)

// ErrDenied matches *DeniedError.
var ErrDenied = errors.New("mandate denied")

// Rule grants SubjectID the right to run CartridgeID.
type Rule struct {
	SubjectID   string `json:"subject_id" yaml:"subject_id"`
	CartridgeID string `json:"cartridge_id" yaml:"cartridge_id"`
}

// Contract records one decision.
type Contract struct {
	SubjectID   string  `json:"subject_id"`
	CartridgeID string  `json:"cartridge_id"`
	Verdict     Verdict `json:"verdict"`
	Reason      string  `json:"reason"`
}

// DeniedError is returned by Enforce for any verdict other than Allow.
type DeniedError struct {
	SubjectID   string  `json:"subject_id"`
	CartridgeID string  `json:"cartridge_id"`
	Verdict     Verdict `json:"verdict"`
	Reason      string  `json:"reason,omitempty"`
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("MANDATE VIOLATION: identity '%s' is not allowed to execute cartridge '%s' (%s)",
		e.SubjectID, e.CartridgeID, e.Verdict)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

func (e *DeniedError) Code() string { return "PILGRIM/MANDATE/DENIED" }

// Mandate is immutable after construction.
type Mandate struct {
	rules    []Rule
	policies []*compiledPolicy
}

// New builds a mandate from static rules and CEL policies. A policy that does
// not compile is a configuration error.
func New(rules []Rule, policies ...Policy) (*Mandate, error) {
	m := &Mandate{rules: append([]Rule(nil), rules...)}
	if len(policies) == 0 {
		return m, nil
	}
	env, err := newPolicyEnv()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		cp, err := compile(env, p)
		if err != nil {
			return nil, err
		}
		m.policies = append(m.policies, cp)
	}
	return m, nil
}

// MustNew is New for static wiring.
func MustNew(rules []Rule, policies ...Policy) *Mandate {
	m, err := New(rules, policies...)
	if err != nil {
		panic(err)
	}
	return m
}

// Rules returns a copy of the static rules.
func (m *Mandate) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// Decide evaluates static rules first, then policies in order.
func (m *Mandate) Decide(subject, cartridge string) Contract {
	c := Contract{SubjectID: subject, CartridgeID: cartridge, Verdict: VerdictDeny, Reason: "no matching rule"}
	for _, r := range m.rules {
		if r.SubjectID == subject && r.CartridgeID == cartridge {
			c.Verdict = VerdictAllow
			c.Reason = "rule"
			return c
		}
	}
	for _, p := range m.policies {
		ok, err := p.eval(subject, cartridge)
		if err != nil {
			c.Verdict = VerdictReview
			c.Reason = fmt.Sprintf("policy %s: %v", p.name, err)
			continue
		}
		if ok {
			c.Verdict = VerdictAllow
			c.Reason = "policy " + p.name
			return c
		}
	}
	return c
}

// Allows reports whether Decide yields Allow.
func (m *Mandate) Allows(subject, cartridge string) bool {
	return m.Decide(subject, cartridge).Verdict == VerdictAllow
}

// Enforce fails with *DeniedError unless the verdict is Allow.
func (m *Mandate) Enforce(subject, cartridge string) error {
	c := m.Decide(subject, cartridge)
	if c.Verdict == VerdictAllow {
		return nil
	}
	return &DeniedError{SubjectID: subject, CartridgeID: cartridge, Verdict: c.Verdict, Reason: c.Reason}
}

// Authorize makes Mandate an executor.Authorizer.
func (m *Mandate) Authorize(subject, action string) error {
	return m.Enforce(subject, action)
}
