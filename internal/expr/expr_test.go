package expr

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

type fakeResolver struct {
	resource map[string]string
	user     map[string]string
	env      map[string]string
	err      error
}

func (f *fakeResolver) ResourceAttribute(_ context.Context, _, _, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.resource[key]
	return v, ok, nil
}

func (f *fakeResolver) UserAttribute(_ context.Context, _, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.user[key]
	return v, ok, nil
}

func (f *fakeResolver) EnvironmentAttribute(_ context.Context, _, _, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.env[key]
	return v, ok, nil
}

func newEvaluator(r AttributeResolver) *Evaluator {
	return NewEvaluator(r, nil)
}

func TestEvaluateContextAttributeComparison(t *testing.T) {
	e := &Expression{
		Operator: OpEqual,
		Left:     Sub(&Expression{Type: TypeAttribute, AttributeType: AttrContext, AttributeKey: "environment"}),
		Right:    Lit("staging"),
	}
	ev := newEvaluator(nil)

	ec := EvalContext{Attributes: map[string]any{"environment": "staging"}}
	require.True(t, ev.Evaluate(context.Background(), e, ec))

	ec.Attributes["environment"] = "production"
	require.False(t, ev.Evaluate(context.Background(), e, ec))
}

func TestEvaluateAttributeNodeWithOperator(t *testing.T) {
	resolver := &fakeResolver{user: map[string]string{"department": "engineering", "level": "7"}}
	ev := newEvaluator(resolver)
	ctx := context.Background()

	eq := &Expression{Type: TypeAttribute, AttributeType: AttrUser, AttributeKey: "department", Operator: OpEqual, Value: "engineering"}
	require.True(t, ev.Evaluate(ctx, eq, EvalContext{UserID: "u1"}))

	gte := &Expression{Type: TypeAttribute, AttributeType: AttrUser, AttributeKey: "level", Operator: OpGreaterEq, Value: 5}
	require.True(t, ev.Evaluate(ctx, gte, EvalContext{UserID: "u1"}))

	// Missing attribute denies regardless of operator.
	missing := &Expression{Type: TypeAttribute, AttributeType: AttrUser, AttributeKey: "region", Operator: OpNotEqual, Value: "eu"}
	require.False(t, ev.Evaluate(ctx, missing, EvalContext{UserID: "u1"}))
}

func TestEvaluateOperators(t *testing.T) {
	ev := newEvaluator(nil)
	ctx := context.Background()
	ec := EvalContext{}

	cases := []struct {
		name  string
		expr  *Expression
		want  bool
	}{
		{"numeric gt", &Expression{Operator: OpGreater, Left: Lit(10), Right: Lit(3)}, true},
		{"numeric string coercion", &Expression{Operator: OpLessEq, Left: Lit("7"), Right: Lit(7)}, true},
		{"string lt", &Expression{Operator: OpLess, Left: Lit("apple"), Right: Lit("banana")}, true},
		{"in slice", &Expression{Operator: OpIn, Left: Lit("qa"), Right: Lit([]any{"qa", "staging"})}, true},
		{"in csv", &Expression{Operator: OpIn, Left: Lit("qa"), Right: Lit("qa, staging")}, true},
		{"not-in", &Expression{Operator: OpNotIn, Left: Lit("prod"), Right: Lit([]any{"qa", "staging"})}, true},
		{"contains substring", &Expression{Operator: OpContains, Left: Lit("workspace-7"), Right: Lit("space")}, true},
		{"contains slice", &Expression{Operator: OpContains, Left: Lit([]any{"read", "write"}), Right: Lit("write")}, true},
		{"not-contains", &Expression{Operator: OpNotContains, Left: Lit("workspace-7"), Right: Lit("archive")}, true},
		{"starts-with", &Expression{Operator: OpStartsWith, Left: Lit("chatflow:read"), Right: Lit("chatflow")}, true},
		{"ends-with", &Expression{Operator: OpEndsWith, Left: Lit("chatflow:read"), Right: Lit(":read")}, true},
		{"ne numeric", &Expression{Operator: OpNotEqual, Left: Lit(1), Right: Lit(2)}, true},
		{"eq cross type", &Expression{Operator: OpEqual, Left: Lit("5"), Right: Lit(5)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ev.Evaluate(ctx, tc.expr, ec))
		})
	}
}

func TestEvaluateTimeBased(t *testing.T) {
	ev := newEvaluator(nil)
	ctx := context.Background()
	now := time.Date(2025, time.June, 18, 10, 0, 0, 0, time.UTC) // Wednesday

	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	window := &Expression{Type: TypeTimeBased, TimeType: TimeWindow, StartTime: &start, EndTime: &end}
	require.True(t, ev.Evaluate(ctx, window, EvalContext{Now: now}))
	require.False(t, ev.Evaluate(ctx, window, EvalContext{Now: now.Add(2 * time.Hour)}))
	require.False(t, ev.Evaluate(ctx, window, EvalContext{Now: now.Add(-2 * time.Hour)}))

	recurring := &Expression{Type: TypeTimeBased, TimeType: TimeRecurring, Schedule: &schedule.Schedule{Days: []int{3}}}
	require.True(t, ev.Evaluate(ctx, recurring, EvalContext{Now: now}))
	require.False(t, ev.Evaluate(ctx, recurring, EvalContext{Now: now.AddDate(0, 0, 1)}))

	business := &Expression{Type: TypeTimeBased, TimeType: TimeBusinessHours}
	require.True(t, ev.Evaluate(ctx, business, EvalContext{Now: now}))
	require.False(t, ev.Evaluate(ctx, business, EvalContext{Now: now.Add(12 * time.Hour)}))
}

func TestEvaluateComposite(t *testing.T) {
	ev := newEvaluator(nil)
	ctx := context.Background()
	ec := EvalContext{Attributes: map[string]any{"env": "staging"}}

	envIs := func(v string) *Expression {
		return &Expression{
			Operator: OpEqual,
			Left:     Sub(&Expression{Type: TypeAttribute, AttributeType: AttrContext, AttributeKey: "env"}),
			Right:    Lit(v),
		}
	}

	and := &Expression{Type: TypeComposite, Operator: OpAnd, Expressions: []*Expression{envIs("staging"), envIs("staging")}}
	require.True(t, ev.Evaluate(ctx, and, ec))

	or := &Expression{Type: TypeComposite, Operator: OpOr, Expressions: []*Expression{envIs("prod"), envIs("staging")}}
	require.True(t, ev.Evaluate(ctx, or, ec))

	not := &Expression{Type: TypeComposite, Operator: OpNot, Expressions: []*Expression{envIs("prod")}}
	require.True(t, ev.Evaluate(ctx, not, ec))

	doubleNot := &Expression{Type: TypeComposite, Operator: OpNot, Expressions: []*Expression{not}}
	require.Equal(t, ev.Evaluate(ctx, envIs("prod"), ec), ev.Evaluate(ctx, doubleNot, ec))
}

func TestEvaluateCompositeShortCircuit(t *testing.T) {
	// AND with a leading false never touches the erroring second branch.
	resolver := &fakeResolver{err: errors.New("store down")}
	ev := newEvaluator(resolver)
	ctx := context.Background()
	ec := EvalContext{Attributes: map[string]any{"env": "prod"}}

	failing := &Expression{Type: TypeAttribute, AttributeType: AttrUser, AttributeKey: "x", Operator: OpEqual, Value: "y"}
	falseFirst := &Expression{
		Operator: OpEqual,
		Left:     Sub(&Expression{Type: TypeAttribute, AttributeType: AttrContext, AttributeKey: "env"}),
		Right:    Lit("staging"),
	}
	and := &Expression{Type: TypeComposite, Operator: OpAnd, Expressions: []*Expression{falseFirst, failing}}
	require.False(t, ev.Evaluate(ctx, and, ec))

	// Even when the erroring branch is reached, the result stays false
	// rather than propagating.
	andReversed := &Expression{Type: TypeComposite, Operator: OpAnd, Expressions: []*Expression{failing, falseFirst}}
	require.False(t, ev.Evaluate(ctx, andReversed, ec))
}

func TestEvaluateMalformedIsFalse(t *testing.T) {
	ev := newEvaluator(nil)
	ctx := context.Background()
	ec := EvalContext{}

	require.False(t, ev.Evaluate(ctx, nil, ec))
	require.False(t, ev.Evaluate(ctx, &Expression{Type: "MYSTERY"}, ec))
	require.False(t, ev.Evaluate(ctx, &Expression{Operator: "~="}, ec))
	require.False(t, ev.Evaluate(ctx, &Expression{Operator: OpEqual}, ec))
	require.False(t, ev.Evaluate(ctx, &Expression{Type: TypeTimeBased, TimeType: "lunar"}, ec))
}

func TestValidate(t *testing.T) {
	valid := &Expression{
		Type:     TypeComposite,
		Operator: OpAnd,
		Expressions: []*Expression{
			{Type: TypeAttribute, AttributeType: AttrContext, AttributeKey: "env", Operator: OpEqual, Value: "staging"},
			{Type: TypeTimeBased, TimeType: TimeBusinessHours},
		},
	}
	require.NoError(t, Validate(valid))

	var ve *ValidationError
	cases := []struct {
		name string
		expr *Expression
	}{
		{"nil", nil},
		{"empty composite", &Expression{Type: TypeComposite, Operator: OpAnd}},
		{"empty or", &Expression{Type: TypeComposite, Operator: OpOr}},
		{"not arity", &Expression{Type: TypeComposite, Operator: OpNot, Expressions: []*Expression{{Type: TypeTimeBased, TimeType: TimeBusinessHours}, {Type: TypeTimeBased, TimeType: TimeBusinessHours}}}},
		{"unknown composite op", &Expression{Type: TypeComposite, Operator: "XOR", Expressions: []*Expression{{Type: TypeTimeBased, TimeType: TimeBusinessHours}}}},
		{"unknown attribute type", &Expression{Type: TypeAttribute, AttributeType: "galaxy", AttributeKey: "k"}},
		{"missing attribute key", &Expression{Type: TypeAttribute, AttributeType: AttrUser}},
		{"missing operator", &Expression{Left: Lit(1), Right: Lit(2)}},
		{"unknown operator", &Expression{Operator: "matches", Left: Lit(1), Right: Lit(2)}},
		{"missing operand", &Expression{Operator: OpEqual, Left: Lit(1)}},
		{"bad schedule", &Expression{Type: TypeTimeBased, TimeType: TimeRecurring, Schedule: &schedule.Schedule{Hours: []int{25}}}},
		{"window without bounds", &Expression{Type: TypeTimeBased, TimeType: TimeWindow}},
		{"invalid nested operand", &Expression{Operator: OpEqual, Left: Sub(&Expression{Type: TypeAttribute, AttributeType: "nope", AttributeKey: "k"}), Right: Lit(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.expr)
			require.Error(t, err)
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestOperandJSONRoundTrip(t *testing.T) {
	raw := `{
		"operator": "=",
		"left": {"type": "ATTRIBUTE", "attributeType": "context", "attributeKey": "environment"},
		"right": "staging"
	}`
	var e Expression
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	require.NotNil(t, e.Left.Expr)
	require.Equal(t, TypeAttribute, e.Left.Expr.Type)
	require.Nil(t, e.Right.Expr)
	require.Equal(t, "staging", e.Right.Literal)

	ev := newEvaluator(nil)
	require.True(t, ev.Evaluate(context.Background(), &e, EvalContext{Attributes: map[string]any{"environment": "staging"}}))

	out, err := json.Marshal(&e)
	require.NoError(t, err)
	var back Expression
	require.NoError(t, json.Unmarshal(out, &back))
	require.NotNil(t, back.Left.Expr)
	require.Equal(t, "environment", back.Left.Expr.AttributeKey)
}
