/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// DefaultRule approves built-in calls that only read.
const DefaultRule = `call.type == "builtin" && (!has(call.arguments.method) || call.arguments.method in ["GET", "get", ""])`

// celCostLimit bounds the runtime cost of one rule evaluation.
const celCostLimit = 100_000

const celEvalTimeout = time.Second

type compiledRule struct {
	expr    string
	program cel.Program
}

// Rules is a set of CEL expressions over a tool call. A call is approved
// when any rule evaluates to true. The variable "call" exposes id, name,
// type and arguments.
type Rules struct {
	rules []compiledRule
}

// NewRules compiles the given expressions.
func NewRules(exprs []string) (*Rules, error) {
	env, err := cel.NewEnv(
		cel.Variable("call", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	r := &Rules{}
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("CEL compilation error in %q: %w", expr, issues.Err())
		}
		prg, err := env.Program(ast, cel.CostLimit(celCostLimit))
		if err != nil {
			return nil, fmt.Errorf("CEL program creation error: %w", err)
		}
		r.rules = append(r.rules, compiledRule{expr: expr, program: prg})
	}
	return r, nil
}

// Len returns the number of rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Allows reports whether any rule approves call. Evaluation errors count as
// not approved.
func (r *Rules) Allows(call tools.Call) bool {
	if r == nil {
		return false
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	activation := map[string]any{
		"call": map[string]any{
			"id":        call.ID,
			"name":      call.Name,
			"type":      string(call.Type),
			"arguments": args,
		},
	}

	for _, rule := range r.rules {
		ctx, cancel := context.WithTimeout(context.Background(), celEvalTimeout)
		out, _, err := rule.program.ContextEval(ctx, activation)
		cancel()
		if err != nil {
			log.V(1).Info("Approval rule evaluation failed", "rule", rule.expr, "tool", call.Name, "error", err.Error())
			continue
		}
		if ok, isBool := out.Value().(bool); isBool && ok {
			return true
		}
	}
	return false
}
