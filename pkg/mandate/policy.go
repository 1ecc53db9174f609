package mandate

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Policy is a named CEL expression over the string variables subject and
// action. It grants when it evaluates to true.
type Policy struct {
	Name string `json:"name" yaml:"name"`
	Expr string `json:"expr" yaml:"expr"`
}

type compiledPolicy struct {
	name string
	prg  cel.Program
}

func newPolicyEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("mandate: cel env: %w", err)
	}
	return env, nil
}

func compile(env *cel.Env, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("mandate: policy name is required")
	}
	ast, issues := env.Compile(p.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("mandate: policy %s: %w", p.Name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("mandate: policy %s must return bool, got %s", p.Name, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("mandate: policy %s: %w", p.Name, err)
	}
	return &compiledPolicy{name: p.Name, prg: prg}, nil
}

func (p *compiledPolicy) eval(subject, action string) (bool, error) {
	val, _, err := p.prg.Eval(map[string]any{
		"subject": subject,
		"action":  action,
	})
	if err != nil {
		return false, err
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("non-bool result %T", val.Value())
	}
	return b, nil
}
