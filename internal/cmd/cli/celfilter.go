package cli

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/internal/queue"
)

// celFilter wraps a compiled CEL program evaluated against queue items.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("owner", cel.StringType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("retry_count", cel.IntType),
		cel.Variable("enqueued_ms", cel.IntType),
		// Parsed payload fields for free-form filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against one item. When disabled,
// returns true.
func (f celFilter) Eval(it *queue.Item) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"owner":       it.OwnerID(),
		"entity":      it.EntityType().String(),
		"operation":   string(it.Operation),
		"priority":    int64(it.Priority()),
		"retry_count": int64(it.RetryCount),
		"enqueued_ms": it.EnqueuedAt.UnixMilli(),
		"json":        entity.ToMap(it.Payload),
		"now_ms":      time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
