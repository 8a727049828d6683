package expr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// AttributeResolver looks up stored attributes for ATTRIBUTE nodes. Implemented
// by the attribute store facade; context-typed attributes bypass it.
type AttributeResolver interface {
	ResourceAttribute(ctx context.Context, resourceType, resourceID, key string) (string, bool, error)
	UserAttribute(ctx context.Context, userID, key string) (string, bool, error)
	EnvironmentAttribute(ctx context.Context, organizationID, workspaceID, key string) (string, bool, error)
}

// EvalContext carries the request-scoped facts an expression can reference.
type EvalContext struct {
	UserID         string
	ResourceType   string
	ResourceID     string
	OrganizationID string
	WorkspaceID    string

	// Now pins the evaluation instant; zero means time.Now().
	Now time.Time

	// Attributes holds caller-supplied context values for the "context"
	// attribute type.
	Attributes map[string]any
}

func (c EvalContext) instant() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Evaluator evaluates expressions against a context. It never panics or
// returns an error to callers: anything malformed or unresolvable evaluates
// to false and is logged.
type Evaluator struct {
	resolver AttributeResolver
	logger   *slog.Logger
}

// NewEvaluator constructs an Evaluator. resolver may be nil when no stored
// attributes are in play (context-only expressions).
func NewEvaluator(resolver AttributeResolver, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{resolver: resolver, logger: logger}
}

// Evaluate returns the boolean outcome of the expression, fail-closed.
func (ev *Evaluator) Evaluate(ctx context.Context, e *Expression, ec EvalContext) bool {
	ok, err := ev.eval(ctx, e, ec)
	if err != nil {
		ev.logger.Warn("expression evaluated to false",
			slog.String("component", "expr"),
			slog.Any("error", err))
		return false
	}
	return ok
}

func (ev *Evaluator) eval(ctx context.Context, e *Expression, ec EvalContext) (bool, error) {
	if e == nil {
		return false, errors.New("expr: nil expression")
	}
	switch e.Type {
	case TypeComposite:
		return ev.evalComposite(ctx, e, ec)
	case TypeTimeBased:
		return evalTimeBased(e, ec.instant())
	case TypeAttribute:
		return ev.evalAttributeNode(ctx, e, ec)
	case TypeCondition, "":
		return ev.evalComparison(ctx, e, ec)
	default:
		return false, fmt.Errorf("expr: unknown expression type %q", e.Type)
	}
}

// evalComposite applies AND/OR/NOT. Sub-expression failures count as false
// rather than aborting the whole tree, so a short-circuit can still decide.
func (ev *Evaluator) evalComposite(ctx context.Context, e *Expression, ec EvalContext) (bool, error) {
	switch strings.ToUpper(e.Operator) {
	case OpAnd:
		if len(e.Expressions) == 0 {
			return false, errors.New("expr: empty AND")
		}
		for _, sub := range e.Expressions {
			ok, err := ev.eval(ctx, sub, ec)
			if err != nil {
				ev.logger.Warn("composite sub-expression failed",
					slog.String("component", "expr"), slog.Any("error", err))
				return false, nil
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case OpOr:
		if len(e.Expressions) == 0 {
			return false, errors.New("expr: empty OR")
		}
		for _, sub := range e.Expressions {
			ok, err := ev.eval(ctx, sub, ec)
			if err != nil {
				ev.logger.Warn("composite sub-expression failed",
					slog.String("component", "expr"), slog.Any("error", err))
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case OpNot:
		if len(e.Expressions) != 1 {
			return false, errors.New("expr: NOT requires exactly one sub-expression")
		}
		ok, err := ev.eval(ctx, e.Expressions[0], ec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, fmt.Errorf("expr: unknown composite operator %q", e.Operator)
	}
}

func evalTimeBased(e *Expression, now time.Time) (bool, error) {
	switch e.TimeType {
	case TimeWindow:
		if e.StartTime == nil && e.EndTime == nil {
			return false, errors.New("expr: window without bounds")
		}
		if e.StartTime != nil && now.Before(*e.StartTime) {
			return false, nil
		}
		if e.EndTime != nil && now.After(*e.EndTime) {
			return false, nil
		}
		return true, nil
	case TimeRecurring:
		if e.Schedule.IsZero() {
			return false, errors.New("expr: recurring without schedule")
		}
		return e.Schedule.Matches(now), nil
	case TimeBusinessHours:
		return schedule.BusinessHours(now), nil
	default:
		return false, fmt.Errorf("expr: unknown time type %q", e.TimeType)
	}
}

// evalAttributeNode compares a resolved attribute to the node's value. A
// missing attribute denies regardless of operator.
func (ev *Evaluator) evalAttributeNode(ctx context.Context, e *Expression, ec EvalContext) (bool, error) {
	if e.Operator == "" {
		return false, errors.New("expr: attribute node without operator is not a boolean")
	}
	resolved, found, err := ev.resolveAttribute(ctx, e, ec)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return compare(resolved, e.Value, e.Operator)
}

func (ev *Evaluator) evalComparison(ctx context.Context, e *Expression, ec EvalContext) (bool, error) {
	if e.Left == nil || e.Right == nil {
		return false, errors.New("expr: comparison requires left and right operands")
	}
	left, err := ev.resolveOperand(ctx, e.Left, ec)
	if err != nil {
		return false, err
	}
	right, err := ev.resolveOperand(ctx, e.Right, ec)
	if err != nil {
		return false, err
	}
	return compare(left, right, e.Operator)
}

// resolveOperand turns an operand into a comparable value. Nested attribute
// nodes without an operator resolve to the raw attribute value; any other
// nested expression resolves to its boolean outcome.
func (ev *Evaluator) resolveOperand(ctx context.Context, o *Operand, ec EvalContext) (any, error) {
	if o == nil {
		return nil, errors.New("expr: nil operand")
	}
	if o.Expr == nil {
		return o.Literal, nil
	}
	if o.Expr.Type == TypeAttribute && o.Expr.Operator == "" {
		v, found, err := ev.resolveAttribute(ctx, o.Expr, ec)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		return v, nil
	}
	return ev.eval(ctx, o.Expr, ec)
}

func (ev *Evaluator) resolveAttribute(ctx context.Context, e *Expression, ec EvalContext) (any, bool, error) {
	switch e.AttributeType {
	case AttrContext:
		v, ok := ec.Attributes[e.AttributeKey]
		return v, ok, nil
	case AttrResource:
		if ev.resolver == nil {
			return nil, false, errors.New("expr: no attribute resolver configured")
		}
		v, ok, err := ev.resolver.ResourceAttribute(ctx, ec.ResourceType, ec.ResourceID, e.AttributeKey)
		return v, ok, err
	case AttrUser:
		if ev.resolver == nil {
			return nil, false, errors.New("expr: no attribute resolver configured")
		}
		v, ok, err := ev.resolver.UserAttribute(ctx, ec.UserID, e.AttributeKey)
		return v, ok, err
	case AttrEnvironment:
		if ev.resolver == nil {
			return nil, false, errors.New("expr: no attribute resolver configured")
		}
		v, ok, err := ev.resolver.EnvironmentAttribute(ctx, ec.OrganizationID, ec.WorkspaceID, e.AttributeKey)
		return v, ok, err
	default:
		return nil, false, fmt.Errorf("expr: unknown attribute type %q", e.AttributeType)
	}
}

func compare(left, right any, op string) (bool, error) {
	switch op {
	case OpEqual:
		return looseEqual(left, right), nil
	case OpNotEqual:
		return !looseEqual(left, right), nil
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		return compareOrdered(left, right, op)
	case OpIn:
		return member(left, right), nil
	case OpNotIn:
		return !member(left, right), nil
	case OpContains:
		return containsValue(left, right), nil
	case OpNotContains:
		return !containsValue(left, right), nil
	case OpStartsWith:
		return strings.HasPrefix(toString(left), toString(right)), nil
	case OpEndsWith:
		return strings.HasSuffix(toString(left), toString(right)), nil
	default:
		return false, fmt.Errorf("expr: unknown operator %q", op)
	}
}

func compareOrdered(left, right any, op string) (bool, error) {
	var cmp int
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(toString(left), toString(right))
	}
	switch op {
	case OpGreater:
		return cmp > 0, nil
	case OpGreaterEq:
		return cmp >= 0, nil
	case OpLess:
		return cmp < 0, nil
	case OpLessEq:
		return cmp <= 0, nil
	}
	return false, fmt.Errorf("expr: unknown ordered operator %q", op)
}

// looseEqual compares numerically when both sides are numeric, by string
// rendering otherwise. JSON decoding yields float64 for every number, so
// stored values and request context values compare consistently.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return lf == rf
	}
	return toString(left) == toString(right)
}

// member reports whether left occurs in right, where right is a slice or a
// comma-separated string.
func member(left, right any) bool {
	items, ok := toSlice(right)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(left, item) {
			return true
		}
	}
	return false
}

// containsValue mirrors member with the operands flipped: a slice on the left
// contains the right value, a string on the left contains the substring.
func containsValue(left, right any) bool {
	if s, ok := left.(string); ok {
		return strings.Contains(s, toString(right))
	}
	if items, ok := toSlice(left); ok {
		for _, item := range items {
			if looseEqual(item, right) {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(left), toString(right))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		items := make([]any, len(s))
		for i, item := range s {
			items[i] = item
		}
		return items, true
	case string:
		parts := strings.Split(s, ",")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			items = append(items, strings.TrimSpace(p))
		}
		return items, true
	default:
		return nil, false
	}
}
