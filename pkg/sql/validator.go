// Package sql validates caller-supplied identifiers and queries before they
// reach a database.
package sql

import (
	"errors"
	"strings"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrNotSelect indicates the query is not a read-only SELECT.
	ErrNotSelect = errors.New("only SELECT queries can describe an entity")
)

// ValidateDescribeQuery prepares a caller-supplied query whose result columns
// become an entity. Only a single SELECT (or WITH ... SELECT) is accepted.
// The returned query has its trailing semicolon removed.
func ValidateDescribeQuery(sqlQuery string) (string, error) {
	stmts := splitStatements(sqlQuery)
	switch len(stmts) {
	case 0:
		return "", apperrors.New(apperrors.CodeInvalidInput, "query is empty")
	case 1:
	default:
		return "", apperrors.Wrap(apperrors.CodeInvalidInput, "invalid query", ErrMultipleStatements)
	}

	switch strings.ToUpper(firstKeyword(stmts[0])) {
	case "SELECT", "WITH":
		return stmts[0], nil
	}
	return "", apperrors.Wrap(apperrors.CodeInvalidInput, "invalid query", ErrNotSelect)
}

// splitStatements splits on semicolons outside string literals, quoted
// identifiers and comments. Statements that are empty or hold only comments
// are dropped.
func splitStatements(sqlQuery string) []string {
	var (
		stmts []string
		start int
	)
	flush := func(end int) {
		stmt := strings.TrimSpace(sqlQuery[start:end])
		if firstKeyword(stmt) != "" {
			stmts = append(stmts, stmt)
		}
	}

	for i := 0; i < len(sqlQuery); i++ {
		switch c := sqlQuery[i]; {
		case c == '\'' || c == '"':
			i = skipQuoted(sqlQuery, i, c)
		case c == '-' && strings.HasPrefix(sqlQuery[i:], "--"):
			i = skipLineComment(sqlQuery, i)
		case c == '/' && strings.HasPrefix(sqlQuery[i:], "/*"):
			i = skipBlockComment(sqlQuery, i)
		case c == ';':
			flush(i)
			start = i + 1
		}
	}
	flush(len(sqlQuery))
	return stmts
}

// skipQuoted returns the index of the quote closing the literal opened at i.
// A doubled quote or a backslash-escaped quote stays inside the literal.
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			if j+1 < len(s) && s[j+1] == quote {
				j++
				continue
			}
			return j
		}
	}
	return len(s)
}

func skipLineComment(s string, i int) int {
	if n := strings.IndexByte(s[i:], '\n'); n >= 0 {
		return i + n
	}
	return len(s)
}

func skipBlockComment(s string, i int) int {
	if n := strings.Index(s[i+2:], "*/"); n >= 0 {
		return i + 2 + n + 1
	}
	return len(s)
}

// firstKeyword returns the first word of stmt, skipping comments and
// opening parentheses.
func firstKeyword(stmt string) string {
	for {
		stmt = strings.TrimLeft(stmt, " \t\r\n(")
		switch {
		case strings.HasPrefix(stmt, "--"):
			stmt = stmt[skipLineComment(stmt, 0):]
		case strings.HasPrefix(stmt, "/*"):
			end := skipBlockComment(stmt, 0)
			if end >= len(stmt) {
				return ""
			}
			stmt = stmt[end+1:]
		default:
			end := strings.IndexFunc(stmt, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return stmt
			}
			return stmt[:end]
		}
	}
}
