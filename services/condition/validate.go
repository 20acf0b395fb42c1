package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of static expression validation. Errors block
// saving the expression; warnings are surfaced to the authoring tool but
// do not block.
type Result struct {
	Valid     bool     `json:"valid"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	Variables []string `json:"variables"`
}

var (
	varToken   = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)
	validIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*$`)
	braceOpen  = regexp.MustCompile(`\{\{`)
	braceClose = regexp.MustCompile(`\}\}`)
)

// ValidateSyntax checks an expression without evaluating it: balance of
// quotes and parentheses, well-formedness of {{var}} tokens, and that the
// expression contains an operator or is a sole boolean term. Used by the
// authoring tool before a graph is saved.
func ValidateSyntax(expr string) Result {
	res := Result{Errors: []string{}, Warnings: []string{}, Variables: []string{}}
	trimmed := strings.TrimSpace(expr)

	if trimmed == "" {
		res.Errors = append(res.Errors, "expression is empty")
		return res
	}

	if err := checkBalance(trimmed); err != nil {
		var serr *SyntaxError
		if errors.As(err, &serr) {
			res.Errors = append(res.Errors, serr.Msg)
		} else {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	if n, m := len(braceOpen.FindAllString(trimmed, -1)), len(braceClose.FindAllString(trimmed, -1)); n != m {
		res.Errors = append(res.Errors, fmt.Sprintf("mismatched variable braces: %d opening, %d closing", n, m))
	}

	for _, m := range varToken.FindAllStringSubmatch(trimmed, -1) {
		name := m[1]
		if name == "" {
			res.Errors = append(res.Errors, "empty variable reference {{}}")
			continue
		}
		if !validIdent.MatchString(name) {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid variable reference {{%s}}", name))
			continue
		}
		res.Variables = appendUnique(res.Variables, name)
	}

	if !hasOperator(trimmed) && !isSoleBooleanTerm(trimmed) {
		res.Errors = append(res.Errors, "expression has no operator and is not a boolean term")
	}

	for _, w := range bareOperandWarnings(trimmed) {
		res.Warnings = append(res.Warnings, w)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// VariablesUsed returns the distinct variable names referenced by the
// expression, in first-use order. Handy for static analysis of a graph:
// an authoring tool can cross-check references against declared variables.
func VariablesUsed(expr string) []string {
	var names []string
	for _, m := range varToken.FindAllStringSubmatch(expr, -1) {
		if validIdent.MatchString(m[1]) {
			names = appendUnique(names, m[1])
		}
	}
	return names
}

func hasOperator(expr string) bool {
	if len(splitTopLevel(expr, "or")) > 1 || len(splitTopLevel(expr, "and")) > 1 {
		return true
	}
	if _, ok := stripNot(expr); ok {
		return true
	}
	if i, _ := findComparison(expr); i >= 0 {
		return true
	}
	return false
}

func isSoleBooleanTerm(expr string) bool {
	if inner, ok := stripOuterParens(expr); ok {
		return isSoleBooleanTerm(inner)
	}
	switch strings.ToLower(expr) {
	case "true", "false":
		return true
	}
	return varRef.MatchString(expr)
}

// bareOperandWarnings flags unquoted string operands in comparisons. They
// evaluate fine (bare tokens are string literals) but quoting is less
// ambiguous, so the authoring tool surfaces a hint.
func bareOperandWarnings(expr string) []string {
	var warnings []string
	for _, clause := range splitClauses(expr) {
		idx, op := findComparison(clause)
		if op == "" {
			continue
		}
		for _, side := range []string{clause[:idx], clause[idx+len(op):]} {
			tok := strings.TrimSpace(side)
			if tok == "" || varRef.MatchString(tok) {
				continue
			}
			if isBareWord(tok) {
				warnings = append(warnings, fmt.Sprintf("unquoted string literal %q; consider '%s'", tok, tok))
			}
		}
	}
	return warnings
}

func splitClauses(expr string) []string {
	var clauses []string
	for _, p := range splitTopLevel(expr, "or") {
		for _, q := range splitTopLevel(p, "and") {
			if rest, ok := stripNot(q); ok {
				q = rest
			}
			if inner, ok := stripOuterParens(q); ok {
				clauses = append(clauses, splitClauses(inner)...)
				continue
			}
			clauses = append(clauses, q)
		}
	}
	return clauses
}

func isBareWord(tok string) bool {
	switch strings.ToLower(tok) {
	case "true", "false", "null", "none":
		return false
	}
	if len(tok) == 0 || tok[0] == '\'' || tok[0] == '"' || tok[0] == '[' {
		return false
	}
	if tok[0] >= '0' && tok[0] <= '9' || tok[0] == '-' {
		return false
	}
	for i := 0; i < len(tok); i++ {
		if !isWordByte(tok[i]) {
			return false
		}
	}
	return true
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
