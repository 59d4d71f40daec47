// Package cel evaluates per-source rule expressions against normalized
// events. Expressions see the event's numeric fields directly plus the raw
// payload map, e.g. `magnitude >= 4.5 && payload.infoTypeName == "正式测定"`.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"tremor/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("magnitude", cel.DoubleType),
		cel.Variable("depth", cel.DoubleType),
		cel.Variable("latitude", cel.DoubleType),
		cel.Variable("longitude", cel.DoubleType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Compile validates that the expression is a bool predicate and returns the
// compiled program. Rule expressions are compiled once per snapshot build,
// so a bad expression is caught at load time, not per event.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// EvaluateFilter runs a compiled rule program against an event. A missing
// magnitude or depth evaluates as -1 so expressions can distinguish "absent"
// from a real reading.
func (e *Evaluator) EvaluateFilter(ctx context.Context, program cel.Program, ev models.Event) (bool, error) {
	magnitude := -1.0
	if ev.Magnitude != nil {
		magnitude = *ev.Magnitude
	}
	depth := -1.0
	if ev.DepthKM != nil {
		depth = *ev.DepthKM
	}

	payload := ev.Raw
	if payload == nil {
		payload = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"source":    ev.Source,
		"magnitude": magnitude,
		"depth":     depth,
		"latitude":  ev.Latitude,
		"longitude": ev.Longitude,
		"payload":   payload,
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}
