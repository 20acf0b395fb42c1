// Package condition implements the boolean expression language used by
// conditional edges and loop exit checks. The grammar is deliberately
// closed: logical combinators, comparisons, string predicates and
// membership over literals and {{variable}} references. Nothing in an
// expression can call code or reach outside the supplied variable map,
// which is what makes operator-authored conditions safe to evaluate.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Expr string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error in %q: %s", e.Expr, e.Msg)
}

// TypeError reports an operator applied to incompatible operand types.
type TypeError struct {
	Op    string
	Left  any
	Right any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error: cannot apply %q to %T and %T", e.Op, e.Left, e.Right)
}

// comparison operators, longest token first so ">=" wins over ">" and
// "not in" wins over "in".
var comparisonOps = []string{"not in", "startswith", "endswith", "contains", "matches", "in", ">=", "<=", "==", "!=", ">", "<"}

// wordOps require identifier boundaries on both sides when scanned.
var wordOps = map[string]bool{
	"not in": true, "startswith": true, "endswith": true,
	"contains": true, "matches": true, "in": true,
}

// Evaluate parses and evaluates a boolean expression against the given
// variable map. Variables referenced as {{name}} or {{a.b.c}} are resolved
// against nested maps; unresolved references default to null rather than
// failing, so a half-populated context produces false branches instead of
// a broken run.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, &SyntaxError{Expr: expr, Msg: "empty expression"}
	}
	if err := checkBalance(expr); err != nil {
		return false, err
	}
	return evaluate(expr, vars)
}

func evaluate(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, &SyntaxError{Expr: expr, Msg: "empty sub-expression"}
	}

	// Lowest precedence first: or, then and, so each side of the split
	// binds tighter than the split point.
	if parts := splitTopLevel(expr, "or"); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evaluate(p, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if parts := splitTopLevel(expr, "and"); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evaluate(p, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	if rest, ok := stripNot(expr); ok {
		v, err := evaluate(rest, vars)
		if err != nil {
			return false, err
		}
		return !v, nil
	}

	if inner, ok := stripOuterParens(expr); ok {
		return evaluate(inner, vars)
	}

	return evaluateLeaf(expr, vars)
}

// evaluateLeaf handles a single comparison, or a bare operand that must
// itself resolve to a boolean.
func evaluateLeaf(expr string, vars map[string]any) (bool, error) {
	idx, op := findComparison(expr)
	if op == "" {
		v, err := resolveOperand(expr, vars)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, &TypeError{Op: "bool", Left: v}
		}
		return b, nil
	}

	left, err := resolveOperand(expr[:idx], vars)
	if err != nil {
		return false, err
	}
	right, err := resolveOperand(expr[idx+len(op):], vars)
	if err != nil {
		return false, err
	}
	return compare(left, op, right)
}

func compare(left any, op string, right any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", "<", ">=", "<=":
		return ordered(left, op, right)
	case "contains", "startswith", "endswith":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, &TypeError{Op: op, Left: left, Right: right}
		}
		switch op {
		case "contains":
			return strings.Contains(ls, rs), nil
		case "startswith":
			return strings.HasPrefix(ls, rs), nil
		default:
			return strings.HasSuffix(ls, rs), nil
		}
	case "matches":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, &TypeError{Op: op, Left: left, Right: right}
		}
		matched, err := regexp.MatchString(rs, ls)
		if err != nil {
			return false, &SyntaxError{Expr: rs, Msg: "invalid pattern: " + err.Error()}
		}
		return matched, nil
	case "in", "not in":
		member, err := membership(left, right)
		if err != nil {
			return false, err
		}
		if op == "not in" {
			return !member, nil
		}
		return member, nil
	}
	return false, &SyntaxError{Expr: op, Msg: "unknown operator"}
}

func membership(left, right any) (bool, error) {
	switch r := right.(type) {
	case []any:
		for _, item := range r {
			if looseEqual(left, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		ls, ok := left.(string)
		if !ok {
			return false, &TypeError{Op: "in", Left: left, Right: right}
		}
		return strings.Contains(r, ls), nil
	}
	return false, &TypeError{Op: "in", Left: left, Right: right}
}

func ordered(left any, op string, right any) (bool, error) {
	if lf, lok := toNumber(left); lok {
		if rf, rok := toNumber(right); rok {
			switch op {
			case ">":
				return lf > rf, nil
			case "<":
				return lf < rf, nil
			case ">=":
				return lf >= rf, nil
			default:
				return lf <= rf, nil
			}
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		default:
			return ls <= rs, nil
		}
	}
	return false, &TypeError{Op: op, Left: left, Right: right}
}

// looseEqual compares across numeric widths and treats mismatched types as
// unequal rather than erroring, so "{{status}} == 3" is false, not fatal,
// when status is a string. Arrays compare element-wise and maps key-wise;
// interface equality is never used, so uncomparable context values cannot
// panic a run.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, lok := toNumber(left); lok {
		if rf, rok := toNumber(right); rok {
			return lf == rf
		}
		return false
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case []any:
		r, ok := right.([]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if !looseEqual(l[i], r[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		r, ok := right.(map[string]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for k, lv := range l {
			rv, present := r[k]
			if !present || !looseEqual(lv, rv) {
				return false
			}
		}
		return true
	}
	// Context values outside the grammar's type set never compare equal.
	return false
}

func toNumber(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

var varRef = regexp.MustCompile(`^\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}$`)

// resolveOperand turns a raw operand token into a value: a quoted string,
// numeric or boolean literal, null, bracketed array, {{variable}} reference,
// or, as a last resort, an unquoted string literal. The bare-token fallback
// intentionally allows `status == active` without quoting "active".
func resolveOperand(token string, vars map[string]any) (any, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &SyntaxError{Expr: token, Msg: "missing operand"}
	}

	if m := varRef.FindStringSubmatch(token); m != nil {
		v, _ := lookupPath(vars, m[1])
		return v, nil
	}

	if len(token) >= 2 {
		if (token[0] == '\'' && token[len(token)-1] == '\'') ||
			(token[0] == '"' && token[len(token)-1] == '"') {
			return token[1 : len(token)-1], nil
		}
	}

	if token[0] == '[' {
		if token[len(token)-1] != ']' {
			return nil, &SyntaxError{Expr: token, Msg: "unterminated array"}
		}
		return parseArray(token[1:len(token)-1], vars)
	}

	switch strings.ToLower(token) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "none":
		return nil, nil
	}

	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, nil
	}

	// Unknown bare token: treat as an unquoted string literal.
	return token, nil
}

func parseArray(inner string, vars map[string]any) ([]any, error) {
	inner = strings.TrimSpace(inner)
	items := []any{}
	if inner == "" {
		return items, nil
	}
	for _, part := range splitTopCommas(inner) {
		v, err := resolveOperand(part, vars)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// lookupPath resolves a dotted path against nested maps. The second return
// reports whether the full path resolved.
func lookupPath(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
