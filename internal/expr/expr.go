// Package expr implements the permission expression grammar: a small tagged
// AST evaluated against a request context. Evaluation is pure and fail-closed;
// structural validation happens at create/update time so malformed trees are
// rejected before they are persisted.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hafbau/fastflow-sub001/internal/schedule"
)

// Type tags an expression node.
type Type string

// Expression node types.
const (
	TypeAttribute Type = "ATTRIBUTE"
	TypeTimeBased Type = "TIME_BASED"
	TypeCondition Type = "CONDITION"
	TypeComposite Type = "COMPOSITE"
)

// Attribute sources an ATTRIBUTE node can resolve from.
const (
	AttrResource    = "resource"
	AttrUser        = "user"
	AttrEnvironment = "environment"
	AttrContext     = "context"
)

// Comparison operators.
const (
	OpEqual       = "="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpGreaterEq   = ">="
	OpLess        = "<"
	OpLessEq      = "<="
	OpIn          = "in"
	OpNotIn       = "not-in"
	OpContains    = "contains"
	OpNotContains = "not-contains"
	OpStartsWith  = "starts-with"
	OpEndsWith    = "ends-with"
)

// Composite operators.
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"
)

// Time-based evaluation modes.
const (
	TimeWindow        = "window"
	TimeRecurring     = "recurring"
	TimeBusinessHours = "business-hours"
)

// Expression is a single AST node. The populated fields depend on Type; a
// node with an empty Type and a comparison Operator is a bare operator node
// comparing Left against Right.
type Expression struct {
	Type Type `json:"type,omitempty"`

	// ATTRIBUTE nodes.
	AttributeType string `json:"attributeType,omitempty"`
	AttributeKey  string `json:"attributeKey,omitempty"`

	// Comparison nodes (ATTRIBUTE with operator, CONDITION, bare operator)
	// and COMPOSITE nodes share the operator field.
	Operator string   `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
	Left     *Operand `json:"left,omitempty"`
	Right    *Operand `json:"right,omitempty"`

	// COMPOSITE nodes.
	Expressions []*Expression `json:"expressions,omitempty"`

	// TIME_BASED nodes.
	TimeType  string             `json:"timeType,omitempty"`
	StartTime *time.Time         `json:"startTime,omitempty"`
	EndTime   *time.Time         `json:"endTime,omitempty"`
	Schedule  *schedule.Schedule `json:"schedule,omitempty"`
}

// Operand is either a nested expression or a literal value. JSON objects
// carrying a type or operator field decode as expressions, everything else
// as a literal.
type Operand struct {
	Expr    *Expression
	Literal any
}

// UnmarshalJSON decides between nested expression and literal.
func (o *Operand) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		_, hasType := probe["type"]
		_, hasOp := probe["operator"]
		if hasType || hasOp {
			var e Expression
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			o.Expr = &e
			return nil
		}
	}
	return json.Unmarshal(data, &o.Literal)
}

// MarshalJSON writes the nested expression when present, the literal otherwise.
func (o Operand) MarshalJSON() ([]byte, error) {
	if o.Expr != nil {
		return json.Marshal(o.Expr)
	}
	return json.Marshal(o.Literal)
}

// Lit wraps a literal value as an operand.
func Lit(v any) *Operand { return &Operand{Literal: v} }

// Sub wraps a nested expression as an operand.
func Sub(e *Expression) *Operand { return &Operand{Expr: e} }

// ValidationError describes a structural problem found by Validate.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "expr: " + e.Reason
	}
	return "expr: " + e.Path + ": " + e.Reason
}

var comparisonOps = map[string]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpGreater: {}, OpGreaterEq: {},
	OpLess: {}, OpLessEq: {}, OpIn: {}, OpNotIn: {},
	OpContains: {}, OpNotContains: {}, OpStartsWith: {}, OpEndsWith: {},
}

var attributeTypes = map[string]struct{}{
	AttrResource: {}, AttrUser: {}, AttrEnvironment: {}, AttrContext: {},
}

// Validate rejects structurally invalid expressions before persistence.
func Validate(e *Expression) error {
	return validate(e, "$")
}

func validate(e *Expression, path string) error {
	if e == nil {
		return &ValidationError{Path: path, Reason: "nil expression"}
	}
	switch e.Type {
	case TypeComposite:
		op := strings.ToUpper(e.Operator)
		if op != OpAnd && op != OpOr && op != OpNot {
			return &ValidationError{Path: path, Reason: "unknown composite operator " + e.Operator}
		}
		if len(e.Expressions) == 0 {
			return &ValidationError{Path: path, Reason: "composite requires at least one sub-expression"}
		}
		if op == OpNot && len(e.Expressions) != 1 {
			return &ValidationError{Path: path, Reason: "NOT requires exactly one sub-expression"}
		}
		for i, sub := range e.Expressions {
			if err := validate(sub, fmt.Sprintf("%s.expressions[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case TypeAttribute:
		if _, ok := attributeTypes[e.AttributeType]; !ok {
			return &ValidationError{Path: path, Reason: "unknown attribute type " + e.AttributeType}
		}
		if e.AttributeKey == "" {
			return &ValidationError{Path: path, Reason: "attribute key required"}
		}
		// Operator is optional: without one the node resolves to the raw
		// attribute value inside a surrounding comparison.
		if e.Operator != "" {
			if _, ok := comparisonOps[e.Operator]; !ok {
				return &ValidationError{Path: path, Reason: "unknown operator " + e.Operator}
			}
		}
		return nil

	case TypeTimeBased:
		switch e.TimeType {
		case TimeWindow:
			if e.StartTime == nil && e.EndTime == nil {
				return &ValidationError{Path: path, Reason: "window requires startTime or endTime"}
			}
		case TimeRecurring:
			if e.Schedule.IsZero() {
				return &ValidationError{Path: path, Reason: "recurring requires a schedule"}
			}
			if err := e.Schedule.Validate(); err != nil {
				return &ValidationError{Path: path, Reason: err.Error()}
			}
		case TimeBusinessHours:
		default:
			return &ValidationError{Path: path, Reason: "unknown time type " + e.TimeType}
		}
		return nil

	case TypeCondition, "":
		if e.Operator == "" {
			return &ValidationError{Path: path, Reason: "missing operator"}
		}
		if _, ok := comparisonOps[e.Operator]; !ok {
			return &ValidationError{Path: path, Reason: "unknown operator " + e.Operator}
		}
		if e.Left == nil || e.Right == nil {
			return &ValidationError{Path: path, Reason: "comparison requires left and right operands"}
		}
		for _, side := range []*Operand{e.Left, e.Right} {
			if side.Expr != nil {
				if err := validate(side.Expr, path+".operand"); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return &ValidationError{Path: path, Reason: "unknown expression type " + string(e.Type)}
	}
}
