package services

import (
	"fmt"
	"regexp"
	"strings"
)

// GuardError describes why a generated statement was rejected before
// execution. The reason is safe to echo to clients.
type GuardError struct {
	Reason string
}

// Error implements the error interface.
func (e *GuardError) Error() string { return "sql rejected: " + e.Reason }

var (
	unionRe = regexp.MustCompile(`(?is)\bunion\b`)
	limitRe = regexp.MustCompile(`(?is)\blimit\s+\d+`)
)

// GuardSQL validates a generated SQL statement against the read-only
// policy. The checks are deliberately lexical and conservative: a false
// rejection costs one retry by the user, a false acceptance costs data.
//
// Rules enforced:
//   - statement must start with SELECT (case-insensitive, after trimming)
//   - no SQL comment markers anywhere (--, /*, */)
//   - no UNION
//   - an explicit LIMIT clause is required
//   - no stacked statements: a semicolon may appear only at the very end
func GuardSQL(sql string) error {
	s := strings.TrimSpace(sql)
	if s == "" {
		return &GuardError{Reason: "empty statement"}
	}
	if !hasSelectPrefix(s) {
		return &GuardError{Reason: "only SELECT statements are allowed"}
	}
	for _, marker := range []string{"--", "/*", "*/"} {
		if strings.Contains(s, marker) {
			return &GuardError{Reason: fmt.Sprintf("comment marker %q is not allowed", marker)}
		}
	}
	if unionRe.MatchString(s) {
		return &GuardError{Reason: "UNION is not allowed"}
	}
	if !limitRe.MatchString(s) {
		return &GuardError{Reason: "an explicit LIMIT clause is required"}
	}
	if idx := strings.Index(s, ";"); idx >= 0 && idx != len(s)-1 {
		return &GuardError{Reason: "stacked statements are not allowed"}
	}
	return nil
}

// hasSelectPrefix requires the SELECT keyword as a whole token, so that
// e.g. "SELECTX ..." does not slip through to execution.
func hasSelectPrefix(s string) bool {
	const kw = "select"
	if len(s) <= len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	switch s[len(kw)] {
	case ' ', '\t', '\n', '\r', '*', '(':
		return true
	}
	return false
}

// ScopeSQL wraps a guarded statement in a tenant scope subquery so the
// tenant filter applies to the full result regardless of what the
// generated SQL joins or aliases. An empty filter leaves the statement
// untouched.
func ScopeSQL(sql, scopeFilter string) string {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	filter := strings.TrimSpace(scopeFilter)
	if filter == "" {
		return s
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS scoped_result WHERE (%s)", s, filter)
}
