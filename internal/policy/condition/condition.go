// Package condition evaluates typed rule conditions against a request
// context map. Evaluation is pure: a condition never mutates state, and a
// missing or mistyped context field evaluates to false.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"kinguard/internal/scoring"
)

// Operator is the closed set of comparison operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpTimeRange   Operator = "time_range"
)

var operatorKinds = map[Operator]func(Value) bool{
	OpEquals:      Value.IsScalar,
	OpNotEquals:   Value.IsScalar,
	OpContains:    Value.IsScalar,
	OpNotContains: Value.IsScalar,
	OpGreaterThan: func(v Value) bool { return v.Kind == KindNumber },
	OpLessThan:    func(v Value) bool { return v.Kind == KindNumber },
	OpIn:          func(v Value) bool { return v.Kind == KindList },
	OpNotIn:       func(v Value) bool { return v.Kind == KindList },
	OpTimeRange:   func(v Value) bool { return v.Kind == KindTimeRange },
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	_, ok := operatorKinds[op]
	return ok
}

// Condition compares one context field with a typed value.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    Value    `json:"value" yaml:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
}

// Validate checks the operator is known and the value variant fits it.
func (c Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	accepts, ok := operatorKinds[c.Operator]
	if !ok {
		return fmt.Errorf("unknown operator %q on field %q", c.Operator, c.Field)
	}
	if !accepts(c.Value) {
		return fmt.Errorf("operator %q on field %q cannot take a %s value", c.Operator, c.Field, kindName(c.Value))
	}
	if c.Operator == OpTimeRange {
		if _, err := parseClock(c.Value.Range.Start); err != nil {
			return fmt.Errorf("time_range start on field %q: %w", c.Field, err)
		}
		if _, err := parseClock(c.Value.Range.End); err != nil {
			return fmt.Errorf("time_range end on field %q: %w", c.Field, err)
		}
	}
	return nil
}

func kindName(v Value) string {
	if v.Kind == "" {
		return "empty"
	}
	return string(v.Kind)
}

// Eval evaluates c against ctx. Negated operators still require the field to
// be present and of a type the value can be compared with.
func Eval(c Condition, ctx map[string]any) bool {
	actual, ok := ctx[c.Field]
	if !ok || actual == nil {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return equal(actual, c.Value)
	case OpNotEquals:
		return comparableWith(actual, c.Value) && !equal(actual, c.Value)
	case OpContains:
		return contains(actual, c.Value)
	case OpNotContains:
		return searchable(actual, c.Value) && !contains(actual, c.Value)
	case OpGreaterThan:
		n, ok := number(actual)
		return ok && c.Value.Kind == KindNumber && n > c.Value.Num
	case OpLessThan:
		n, ok := number(actual)
		return ok && c.Value.Kind == KindNumber && n < c.Value.Num
	case OpIn:
		return in(actual, c.Value)
	case OpNotIn:
		return c.Value.Kind == KindList && memberOfKind(actual, c.Value) && !in(actual, c.Value)
	case OpTimeRange:
		return inTimeRange(actual, c.Value)
	default:
		return false
	}
}

// All reports whether every condition holds. An empty list holds.
func All(conds []Condition, ctx map[string]any) bool {
	for _, c := range conds {
		if !Eval(c, ctx) {
			return false
		}
	}
	return true
}

func number(v any) (float64, bool) {
	if n, ok := scoring.Number(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return n, err == nil
	}
	return 0, false
}

func equal(actual any, want Value) bool {
	switch want.Kind {
	case KindNumber:
		n, ok := number(actual)
		return ok && n == want.Num
	case KindBool:
		switch a := actual.(type) {
		case bool:
			return a == want.Bool
		case string:
			b, err := strconv.ParseBool(a)
			return err == nil && b == want.Bool
		}
		return false
	case KindString:
		s, ok := actual.(string)
		if !ok {
			if st, isStringer := actual.(fmt.Stringer); isStringer {
				s, ok = st.String(), true
			}
		}
		return ok && strings.EqualFold(s, want.Str)
	default:
		return false
	}
}

// comparableWith reports whether actual has a type equal can meaningfully
// compare with want.
func comparableWith(actual any, want Value) bool {
	switch want.Kind {
	case KindNumber:
		_, ok := number(actual)
		return ok
	case KindBool:
		switch a := actual.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(a)
			return err == nil
		}
		return false
	case KindString:
		switch actual.(type) {
		case string, fmt.Stringer:
			return true
		}
		return false
	default:
		return false
	}
}

// searchable reports whether contains can look for want inside actual.
func searchable(actual any, want Value) bool {
	switch actual.(type) {
	case string:
		return want.Kind == KindString
	case []string, []any:
		return want.IsScalar()
	}
	return false
}

// memberOfKind reports whether actual is comparable with at least one list
// element.
func memberOfKind(actual any, list Value) bool {
	for _, item := range list.List {
		if comparableWith(actual, item) {
			return true
		}
	}
	return false
}

func contains(actual any, want Value) bool {
	switch a := actual.(type) {
	case string:
		return want.Kind == KindString && strings.Contains(strings.ToLower(a), strings.ToLower(want.Str))
	case []string:
		for _, item := range a {
			if equal(item, want) {
				return true
			}
		}
	case []any:
		for _, item := range a {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

func in(actual any, list Value) bool {
	if list.Kind != KindList {
		return false
	}
	for _, item := range list.List {
		if equal(actual, item) {
			return true
		}
	}
	return false
}

const minutesPerDay = 24 * 60

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
}

// minuteOfDay accepts a time.Time, an RFC 3339 timestamp, or an "HH:MM"
// clock string.
func minuteOfDay(v any) (int, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.Hour()*60 + t.Minute(), true
	case string:
		if m, err := parseClock(t); err == nil {
			return m, true
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(t)); err == nil {
			return ts.Hour()*60 + ts.Minute(), true
		}
	}
	return 0, false
}

func inTimeRange(actual any, want Value) bool {
	if want.Kind != KindTimeRange {
		return false
	}
	now, ok := minuteOfDay(actual)
	if !ok {
		return false
	}
	start, err := parseClock(want.Range.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(want.Range.End)
	if err != nil {
		return false
	}
	now %= minutesPerDay
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}
