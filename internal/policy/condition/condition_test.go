package condition

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEval_MissingFieldIsFalse(t *testing.T) {
	ops := []Condition{
		{Field: "x", Operator: OpEquals, Value: String("a")},
		{Field: "x", Operator: OpNotEquals, Value: String("a")},
		{Field: "x", Operator: OpContains, Value: String("a")},
		{Field: "x", Operator: OpNotContains, Value: String("a")},
		{Field: "x", Operator: OpGreaterThan, Value: Number(1)},
		{Field: "x", Operator: OpLessThan, Value: Number(1)},
		{Field: "x", Operator: OpIn, Value: Strings("a")},
		{Field: "x", Operator: OpNotIn, Value: Strings("a")},
		{Field: "x", Operator: OpTimeRange, Value: Range("22:00", "07:00")},
	}
	for _, c := range ops {
		t.Run(string(c.Operator), func(t *testing.T) {
			assert.False(t, Eval(c, map[string]any{}))
			assert.False(t, Eval(c, map[string]any{"x": nil}))
			assert.False(t, Eval(c, nil))
		})
	}
}

func TestEval_MistypedFieldIsFalse(t *testing.T) {
	ctx := map[string]any{
		"risk_score":   "high",
		"tags":         42.0,
		"network_type": 0.3,
		"mfa":          "maybe",
	}
	cases := []Condition{
		{Field: "risk_score", Operator: OpNotEquals, Value: Number(0.5)},
		{Field: "mfa", Operator: OpNotEquals, Value: Bool(true)},
		{Field: "network_type", Operator: OpNotEquals, Value: String("public")},
		{Field: "tags", Operator: OpNotContains, Value: String("games")},
		{Field: "network_type", Operator: OpNotIn, Value: Strings("public")},
		{Field: "risk_score", Operator: OpNotIn, Value: List(Number(0.1), Number(0.2))},
		{Field: "network_type", Operator: OpNotIn, Value: List()},
	}
	for _, c := range cases {
		t.Run(c.String(), func(t *testing.T) {
			assert.False(t, Eval(c, ctx))
		})
	}

	t.Run("well-typed negations still hold", func(t *testing.T) {
		assert.True(t, Eval(Condition{Field: "n", Operator: OpNotEquals, Value: Number(0.5)}, map[string]any{"n": 0.3}))
		assert.True(t, Eval(Condition{Field: "n", Operator: OpNotIn, Value: List(Number(1), Number(2))}, map[string]any{"n": "3"}))
		assert.True(t, Eval(Condition{Field: "s", Operator: OpNotContains, Value: String("x")}, map[string]any{"s": "abc"}))
	})
}

func TestEval_Operators(t *testing.T) {
	ctx := map[string]any{
		"network_type": "Home",
		"risk_score":   0.85,
		"age":          json.Number("11"),
		"mfa":          true,
		"categories":   []any{"games", "video"},
		"url":          "https://example.com/Games/chess",
		"count":        "3",
	}
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals string folds case", Condition{"network_type", OpEquals, String("home")}, true},
		{"equals number", Condition{"risk_score", OpEquals, Number(0.85)}, true},
		{"equals bool", Condition{"mfa", OpEquals, Bool(true)}, true},
		{"equals type mismatch", Condition{"mfa", OpEquals, String("yes")}, false},
		{"not_equals", Condition{"network_type", OpNotEquals, String("public")}, true},
		{"contains substring", Condition{"url", OpContains, String("games")}, true},
		{"contains list element", Condition{"categories", OpContains, String("video")}, true},
		{"not_contains", Condition{"categories", OpNotContains, String("social")}, true},
		{"greater_than", Condition{"risk_score", OpGreaterThan, Number(0.8)}, true},
		{"greater_than json number", Condition{"age", OpGreaterThan, Number(12)}, false},
		{"less_than json number", Condition{"age", OpLessThan, Number(13)}, true},
		{"numeric string coerces", Condition{"count", OpGreaterThan, Number(2)}, true},
		{"comparison on non-number", Condition{"network_type", OpGreaterThan, Number(1)}, false},
		{"in", Condition{"network_type", OpIn, Strings("school", "home")}, true},
		{"not_in", Condition{"network_type", OpNotIn, Strings("public", "mobile")}, true},
		{"in number list", Condition{"age", OpIn, List(Number(10), Number(11))}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eval(tc.cond, ctx))
		})
	}
}

func TestEval_TimeRangeWraparound(t *testing.T) {
	overnight := Condition{Field: "time", Operator: OpTimeRange, Value: Range("22:00", "07:00")}

	assert.True(t, Eval(overnight, map[string]any{"time": "23:30"}))
	assert.True(t, Eval(overnight, map[string]any{"time": "06:30"}))
	assert.False(t, Eval(overnight, map[string]any{"time": "12:00"}))
	assert.True(t, Eval(overnight, map[string]any{"time": "22:00"}))
	assert.True(t, Eval(overnight, map[string]any{"time": "07:00"}))
	assert.False(t, Eval(overnight, map[string]any{"time": "07:01"}))

	daytime := Condition{Field: "time", Operator: OpTimeRange, Value: Range("09:00", "17:00")}
	assert.True(t, Eval(daytime, map[string]any{"time": "12:00"}))
	assert.False(t, Eval(daytime, map[string]any{"time": "23:30"}))

	t.Run("accepts timestamps", func(t *testing.T) {
		ts := time.Date(2026, 1, 1, 23, 45, 0, 0, time.UTC)
		assert.True(t, Eval(overnight, map[string]any{"time": ts}))
		assert.True(t, Eval(overnight, map[string]any{"time": ts.Format(time.RFC3339)}))
	})

	t.Run("unparseable time is false", func(t *testing.T) {
		assert.False(t, Eval(overnight, map[string]any{"time": "late"}))
		assert.False(t, Eval(overnight, map[string]any{"time": 23}))
	})
}

func TestAll(t *testing.T) {
	ctx := map[string]any{"a": 1, "b": "x"}
	assert.True(t, All(nil, ctx))
	assert.True(t, All([]Condition{
		{Field: "a", Operator: OpEquals, Value: Number(1)},
		{Field: "b", Operator: OpEquals, Value: String("x")},
	}, ctx))
	assert.False(t, All([]Condition{
		{Field: "a", Operator: OpEquals, Value: Number(1)},
		{Field: "c", Operator: OpEquals, Value: String("x")},
	}, ctx))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
		ok   bool
	}{
		{"valid equals", Condition{"f", OpEquals, String("x")}, true},
		{"unknown operator", Condition{"f", Operator("matches"), String("x")}, false},
		{"missing field", Condition{"", OpEquals, String("x")}, false},
		{"comparison needs number", Condition{"f", OpGreaterThan, String("x")}, false},
		{"in needs list", Condition{"f", OpIn, String("x")}, false},
		{"time_range needs range", Condition{"f", OpTimeRange, String("22:00")}, false},
		{"time_range bad clock", Condition{"f", OpTimeRange, Range("25:00", "07:00")}, false},
		{"valid time_range", Condition{"f", OpTimeRange, Range("22:00", "07:00")}, true},
		{"empty value", Condition{"f", OpEquals, Value{}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cond.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValue_JSON(t *testing.T) {
	var conds []Condition
	err := json.Unmarshal([]byte(`[
		{"field": "network_type", "operator": "equals", "value": "home"},
		{"field": "risk_score", "operator": "greater_than", "value": 0.8},
		{"field": "mfa", "operator": "equals", "value": false},
		{"field": "role", "operator": "in", "value": ["child", "guest"]},
		{"field": "time", "operator": "time_range", "value": {"start": "22:00", "end": "07:00"}}
	]`), &conds)
	require.NoError(t, err)
	require.Len(t, conds, 5)

	assert.Equal(t, String("home"), conds[0].Value)
	assert.Equal(t, Number(0.8), conds[1].Value)
	assert.Equal(t, Bool(false), conds[2].Value)
	assert.Equal(t, Strings("child", "guest"), conds[3].Value)
	assert.Equal(t, Range("22:00", "07:00"), conds[4].Value)

	out, err := json.Marshal(conds[4])
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"time","operator":"time_range","value":{"start":"22:00","end":"07:00"}}`, string(out))

	t.Run("rejects nested lists", func(t *testing.T) {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(`[["a"]]`), &v))
	})

	t.Run("rejects arbitrary objects", func(t *testing.T) {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(`{"from": "1"}`), &v))
	})
}

func TestValue_YAML(t *testing.T) {
	var conds []Condition
	err := yaml.Unmarshal([]byte(`
- field: network_type
  operator: equals
  value: home
- field: risk_score
  operator: greater_than
  value: 0.8
- field: device_managed
  operator: equals
  value: true
- field: role
  operator: not_in
  value: [parent, device]
- field: time
  operator: time_range
  value: {start: "22:00", end: "07:00"}
`), &conds)
	require.NoError(t, err)
	require.Len(t, conds, 5)

	assert.Equal(t, String("home"), conds[0].Value)
	assert.Equal(t, Number(0.8), conds[1].Value)
	assert.Equal(t, Bool(true), conds[2].Value)
	assert.Equal(t, Strings("parent", "device"), conds[3].Value)
	assert.Equal(t, Range("22:00", "07:00"), conds[4].Value)
	for _, c := range conds {
		assert.NoError(t, c.Validate())
	}
}
