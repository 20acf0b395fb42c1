package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Comparisons(t *testing.T) {
	tests := []struct {
		name string
		expr string
		vars map[string]any
		want bool
	}{
		{"gte true", "{{age}} >= 18", map[string]any{"age": 25}, true},
		{"gte false", "{{age}} >= 18", map[string]any{"age": 15}, false},
		{"gt", "{{age}} > 18", map[string]any{"age": 19}, true},
		{"lt", "{{age}} < 18", map[string]any{"age": 15}, true},
		{"lte", "{{age}} <= 18", map[string]any{"age": 18}, true},
		{"eq number", "{{count}} == 3", map[string]any{"count": 3}, true},
		{"eq float vs int", "{{count}} == 3", map[string]any{"count": 3.0}, true},
		{"neq", "{{count}} != 3", map[string]any{"count": 4}, true},
		{"eq string", "{{status}} == 'active'", map[string]any{"status": "active"}, true},
		{"eq bare string", "{{status}} == active", map[string]any{"status": "active"}, true},
		{"eq cross type is false", "{{status}} == 3", map[string]any{"status": "3"}, false},
		{"string ordering", "{{name}} > 'alice'", map[string]any{"name": "bob"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Logical(t *testing.T) {
	tests := []struct {
		name string
		expr string
		vars map[string]any
		want bool
	}{
		{"and false", "{{a}} and {{b}}", map[string]any{"a": true, "b": false}, false},
		{"and true", "{{a}} and {{b}}", map[string]any{"a": true, "b": true}, true},
		{"or true", "{{a}} or {{b}}", map[string]any{"a": false, "b": true}, true},
		{"not", "not {{x}}", map[string]any{"x": false}, true},
		{"precedence not binds tightest", "not {{a}} and {{b}}", map[string]any{"a": false, "b": true}, true},
		{"precedence and over or", "{{a}} or {{b}} and {{c}}", map[string]any{"a": true, "b": true, "c": false}, true},
		{"parens override", "({{a}} or {{b}}) and {{c}}", map[string]any{"a": true, "b": true, "c": false}, false},
		{"comparisons combined", "{{age}} >= 18 and {{status}} == 'active'", map[string]any{"age": 30, "status": "active"}, true},
		{"or of comparisons", "{{age}} < 18 or {{vip}} == true", map[string]any{"age": 40, "vip": true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_StringPredicates(t *testing.T) {
	vars := map[string]any{"msg": "hello world", "mail": "alice@example.com"}

	tests := []struct {
		expr string
		want bool
	}{
		{"{{msg}} contains 'world'", true},
		{"{{msg}} contains 'mars'", false},
		{"{{msg}} startswith 'hello'", true},
		{"{{msg}} endswith 'world'", true},
		{"{{mail}} matches '.+@example\\.com'", true},
		{"{{mail}} matches '^bob'", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Membership(t *testing.T) {
	tests := []struct {
		name string
		expr string
		vars map[string]any
		want bool
	}{
		{"in array", "{{role}} in ['admin','mod']", map[string]any{"role": "admin"}, true},
		{"not member", "{{role}} in ['admin','mod']", map[string]any{"role": "guest"}, false},
		{"not in", "{{role}} not in ['admin','mod']", map[string]any{"role": "guest"}, true},
		{"number in array", "{{code}} in [200, 201, 204]", map[string]any{"code": 201}, true},
		{"substring in string", "{{word}} in 'the quick fox'", map[string]any{"word": "quick"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_DottedPaths(t *testing.T) {
	vars := map[string]any{
		"user": map[string]any{
			"age":     20,
			"profile": map[string]any{"plan": "pro"},
		},
	}

	got, err := Evaluate("{{user.age}} >= 18", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("{{user.profile.plan}} == 'pro'", vars)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_UnresolvedVariableDefaultsToNull(t *testing.T) {
	got, err := Evaluate("{{missing}} == null", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)

	// null never satisfies an ordered comparison's type check.
	_, err = Evaluate("{{missing}} > 5", map[string]any{})
	require.Error(t, err)
	assert.IsType(t, &TypeError{}, err)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate("", nil)
	assert.IsType(t, &SyntaxError{}, err)

	_, err = Evaluate("({{a}} == 1", map[string]any{"a": 1})
	assert.IsType(t, &SyntaxError{}, err)

	_, err = Evaluate("{{a}} == 'unterminated", map[string]any{"a": 1})
	assert.IsType(t, &SyntaxError{}, err)

	// Bare non-boolean expression fails rather than guessing truthiness.
	_, err = Evaluate("{{name}}", map[string]any{"name": "alice"})
	assert.IsType(t, &TypeError{}, err)

	_, err = Evaluate("{{n}} > 'abc'", map[string]any{"n": 5})
	assert.IsType(t, &TypeError{}, err)
}

func TestEvaluate_OperatorInsideStringLiteral(t *testing.T) {
	// The "and" inside the quoted literal must not be split on.
	got, err := Evaluate("{{title}} == 'war and peace'", map[string]any{"title": "war and peace"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_BooleanLiterals(t *testing.T) {
	got, err := Evaluate("true", nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("{{flag}} == true", map[string]any{"flag": true})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("not false", nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluate_ArrayAndMapEquality(t *testing.T) {
	got, err := Evaluate("[1,2] == [1,2]", nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("[1,2] == [2,1]", nil)
	require.NoError(t, err)
	assert.False(t, got)

	vars := map[string]any{
		"a": []any{1, 2},
		"b": []any{int64(1), float64(2)},
		"m": map[string]any{"k": 1, "s": "x"},
		"n": map[string]any{"k": int64(1), "s": "x"},
	}

	got, err = Evaluate("{{a}} == {{b}}", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("{{a}} != {{b}}", vars)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Evaluate("{{m}} == {{n}}", vars)
	require.NoError(t, err)
	assert.True(t, got)

	// Mismatched shapes are unequal, never fatal.
	got, err = Evaluate("{{a}} == {{m}}", vars)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Evaluate("{{a}} == [1,2,3]", vars)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluate_KeywordSegmentsInsideVariableRefs(t *testing.T) {
	vars := map[string]any{
		"opts": map[string]any{"in": 5, "or": "x", "and": "y", "not": true},
	}

	got, err := Evaluate("{{opts.in}} == 5", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("{{opts.or}} == 'x' and {{opts.and}} == 'y'", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("{{opts.not}}", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Evaluate("5 in [{{opts.in}}, 6]", vars)
	require.NoError(t, err)
	assert.True(t, got)
}
