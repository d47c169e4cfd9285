package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/schema"
)

// Planner holds the ordered rule table and the registry it validates
// candidates against, plus a cache of compiled CEL guard programs so a
// rule's guard expression is parsed once, not once per message.
type Planner struct {
	Rules    []Rule
	Registry *registry.Registry

	celEnv   *cel.Env
	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewPlanner builds a Planner over rules, validating candidates against reg.
func NewPlanner(rules []Rule, reg *registry.Registry) (*Planner, error) {
	env, err := cel.NewEnv(
		cel.Variable("message", cel.StringType),
		cel.Variable("context", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("router: building CEL environment: %w", err)
	}
	return &Planner{
		Rules:    rules,
		Registry: reg,
		celEnv:   env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Plan iterates Rules in order, returning the first candidate whose
// pattern matches, whose guard (if any) passes, and whose extracted input
// — after context-filling — validates against the tool's input_schema. If
// nothing matches, planned is empty and reason explains why.
func (p *Planner) Plan(message string, ctxFields map[string]any, maxCalls int) (planned []contracts.PlannedCall, reason string) {
	for i, rule := range p.Rules {
		for _, pattern := range rule.Patterns {
			match := pattern.FindStringSubmatch(message)
			if match == nil {
				continue
			}

			if rule.Guard != "" {
				ok, err := p.evalGuard(rule.Guard, message, ctxFields)
				if err != nil {
					reason = fmt.Sprintf("rule %q guard error: %v", rule.Name, err)
					continue
				}
				if !ok {
					continue
				}
			}

			tool, err := p.Registry.Get(rule.Tool)
			if err != nil {
				reason = fmt.Sprintf("rule %q references unknown tool %q", rule.Name, rule.Tool)
				continue
			}

			input := rule.Extract(match, message, ctxFields)
			fillFromContext(input, tool, ctxFields)

			if result := schema.Validate(tool.InputSchema, input); !result.Valid {
				reason = fmt.Sprintf("rule %q matched but extracted input failed validation: %s", rule.Name, result.Error.Error())
				continue
			}

			raw, err := json.Marshal(input)
			if err != nil {
				reason = fmt.Sprintf("rule %q: encoding extracted input: %v", rule.Name, err)
				continue
			}

			call := contracts.PlannedCall{
				ToolName:   rule.Tool,
				Input:      raw,
				Confidence: rule.Confidence,
				RuleIndex:  i,
			}
			if idemField := tool.Idempotency.KeyField; idemField != "" {
				if v, ok := input[idemField]; ok {
					call.IdempotencyKey = fmt.Sprintf("%v", v)
				}
			}

			planned = []contracts.PlannedCall{call}
			if maxCalls > 0 && len(planned) > maxCalls {
				planned = planned[:maxCalls]
			}
			return planned, fmt.Sprintf("matched rule %q for tool %q", rule.Name, rule.Tool)
		}
	}

	if reason == "" {
		reason = "no planner rule matched the message"
	}
	return nil, reason
}

// fillFromContext injects lead_id/job_id/quote_id/etc. from request
// context into the extracted input, but only for fields the tool's own
// schema declares and which extraction left unset — the context never
// overrides an explicit value the message itself supplied.
func fillFromContext(input map[string]any, tool contracts.Tool, ctxFields map[string]any) {
	props, _ := tool.InputSchema["properties"].(map[string]any)
	if props == nil {
		return
	}
	for _, name := range contextFieldNames(tool.Name) {
		if _, declared := props[name]; !declared {
			continue
		}
		if _, present := input[name]; present {
			continue
		}
		if v, ok := ctxFields[name]; ok {
			input[name] = v
		}
	}
}

func (p *Planner) evalGuard(expr, message string, ctxFields map[string]any) (bool, error) {
	p.mu.Lock()
	prg, hit := p.programs[expr]
	p.mu.Unlock()

	if !hit {
		ast, issues := p.celEnv.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return false, fmt.Errorf("compiling guard: %w", issues.Err())
		}
		compiled, err := p.celEnv.Program(ast)
		if err != nil {
			return false, fmt.Errorf("building guard program: %w", err)
		}
		p.mu.Lock()
		p.programs[expr] = compiled
		p.mu.Unlock()
		prg = compiled
	}

	out, _, err := prg.Eval(map[string]any{"message": message, "context": ctxFields})
	if err != nil {
		return false, err
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard expression did not evaluate to a boolean")
	}
	return val, nil
}
