// Package policy evaluates the OPA admission policy for run submissions.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

const defaultQuery = "data.aegis.admission.result"

// Engine holds a policy compiled once at startup. Admission decisions must
// be reproducible, so nondeterministic builtins (time, rand, http.send and
// friends) are stripped from the compile capabilities and any call to one is
// rejected at load time.
type Engine struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

// NewEngineFromPath loads and compiles the policy at path, which may be a
// single .rego file or a directory of .rego and data.json files.
func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	policyHash, err := ComputePolicyHash(path)
	if err != nil {
		return nil, fmt.Errorf("hash policy %s: %w", path, err)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = deterministicBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{path}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", path, err)
	}
	if err := assertDeterministic(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		policyHash: policyHash,
	}, nil
}

func (e *Engine) PolicyHash() string {
	return e.policyHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error) {
	if e == nil {
		return domain.AdmissionDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.AdmissionDecision{}, errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	sort.Strings(result.Deny)
	return domain.AdmissionDecision{
		Allow:      result.Allow,
		Reasons:    result.Deny,
		PolicyHash: e.policyHash,
	}, nil
}

type admissionResult struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny"`
}

func decodeResult(value any) (admissionResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return admissionResult{}, err
	}
	var result admissionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return admissionResult{}, err
	}
	return result, nil
}

func deterministicBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	out := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if builtin.Nondeterministic {
			continue
		}
		out = append(out, builtin)
	}
	return out
}

func assertDeterministic(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			builtin, ok := ast.BuiltinMap[name]
			if !ok || !builtin.Nondeterministic {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("nondeterministic builtins in policy: %s", strings.Join(names, ", "))
}
