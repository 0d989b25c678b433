package rate

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var conditionEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("category", cel.StringType),
		cel.Variable("tier", cel.StringType),
	)
})

// CompileCondition compiles an offer condition and checks it yields a bool.
func CompileCondition(expression string) (cel.Program, error) {
	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	if _, err := evalCondition(program, "", ""); err != nil {
		return nil, err
	}

	return program, nil
}

func evalCondition(program cel.Program, category, tier string) (bool, error) {
	result, _, err := program.Eval(map[string]any{
		"category": category,
		"tier":     tier,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return a boolean, got %T", result.Value())
	}
	return matched, nil
}
