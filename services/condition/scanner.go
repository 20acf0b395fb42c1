package condition

import "strings"

// The scanner walks an expression byte by byte tracking quote state,
// paren/bracket depth and {{ }} variable references, so operator keywords
// inside string literals, grouped sub-expressions or variable paths
// (e.g. {{opts.in}}) are never split on.

type scanState struct {
	quote  byte // active quote char, 0 when outside string literals
	depth  int  // combined paren + bracket nesting
	braces int  // {{ }} nesting
	prev   byte
}

func (s *scanState) step(c byte) {
	if s.quote != 0 {
		if c == s.quote {
			s.quote = 0
		}
		s.prev = c
		return
	}
	switch c {
	case '\'', '"':
		s.quote = c
	case '(', '[':
		s.depth++
	case ')', ']':
		s.depth--
	case '{':
		if s.prev == '{' {
			s.braces++
			c = 0 // consume the pair so "{{{" is not counted twice
		}
	case '}':
		if s.prev == '}' && s.braces > 0 {
			s.braces--
			c = 0
		}
	}
	s.prev = c
}

// top reports whether the scanner is outside every string literal, group
// and variable reference.
func (s *scanState) top() bool {
	return s.quote == 0 && s.depth == 0 && s.braces == 0
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// wordAt reports whether word occurs at position i with identifier
// boundaries on both sides.
func wordAt(s, word string, i int) bool {
	if i+len(word) > len(s) || s[i:i+len(word)] != word {
		return false
	}
	if i > 0 && isWordByte(s[i-1]) {
		return false
	}
	if end := i + len(word); end < len(s) && isWordByte(s[end]) {
		return false
	}
	return true
}

// splitTopLevel splits the expression on every top-level occurrence of the
// given keyword ("or"/"and"). Returns a single-element slice when the
// keyword never occurs at the top level.
func splitTopLevel(expr, word string) []string {
	var parts []string
	var st scanState
	start := 0
	for i := 0; i < len(expr); i++ {
		if st.top() && wordAt(expr, word, i) {
			parts = append(parts, expr[start:i])
			i += len(word)
			start = i
			i--
			continue
		}
		st.step(expr[i])
	}
	parts = append(parts, expr[start:])
	if len(parts) == 1 {
		return parts
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// splitTopCommas splits array literal contents on commas outside quotes
// and nested brackets.
func splitTopCommas(s string) []string {
	var parts []string
	var st scanState
	start := 0
	for i := 0; i < len(s); i++ {
		if st.top() && s[i] == ',' {
			parts = append(parts, s[start:i])
			start = i + 1
			continue
		}
		st.step(s[i])
	}
	return append(parts, s[start:])
}

// stripNot strips a leading top-level "not" keyword.
func stripNot(expr string) (string, bool) {
	if wordAt(expr, "not", 0) && !strings.HasPrefix(expr, "not in") {
		rest := strings.TrimSpace(expr[3:])
		if rest != "" {
			return rest, true
		}
	}
	return expr, false
}

// stripOuterParens removes one pair of enclosing parentheses when the
// opening paren at position 0 matches the closing paren at the end.
func stripOuterParens(expr string) (string, bool) {
	if len(expr) < 2 || expr[0] != '(' || expr[len(expr)-1] != ')' {
		return expr, false
	}
	var st scanState
	for i := 0; i < len(expr); i++ {
		st.step(expr[i])
		if st.depth == 0 && st.quote == 0 {
			// The paren opened at 0 closes here; only strip when that
			// is the final byte.
			if i == len(expr)-1 {
				return strings.TrimSpace(expr[1 : len(expr)-1]), true
			}
			return expr, false
		}
	}
	return expr, false
}

// findComparison locates the leftmost top-level comparison operator,
// preferring the longest token at any given position. Returns -1, "" when
// the expression contains no comparison.
func findComparison(expr string) (int, string) {
	var st scanState
	for i := 0; i < len(expr); i++ {
		if st.top() {
			for _, op := range comparisonOps {
				if wordOps[op] {
					if wordAt(expr, op, i) {
						return i, op
					}
					continue
				}
				if strings.HasPrefix(expr[i:], op) {
					return i, op
				}
			}
		}
		st.step(expr[i])
	}
	return -1, ""
}

// checkBalance verifies quote and paren/bracket balance before any
// evaluation or splitting happens.
func checkBalance(expr string) error {
	var st scanState
	for i := 0; i < len(expr); i++ {
		st.step(expr[i])
		if st.depth < 0 {
			return &SyntaxError{Expr: expr, Msg: "unbalanced parentheses"}
		}
	}
	if st.quote != 0 {
		return &SyntaxError{Expr: expr, Msg: "unterminated string literal"}
	}
	if st.depth != 0 {
		return &SyntaxError{Expr: expr, Msg: "unbalanced parentheses"}
	}
	if st.braces != 0 {
		return &SyntaxError{Expr: expr, Msg: "unterminated variable reference"}
	}
	return nil
}
