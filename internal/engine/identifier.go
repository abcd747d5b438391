package engine

import (
	"regexp"
	"strings"

	"github.com/dbforge/dbforge/internal/apperrors"
)

// identifierPattern is the identifier-safety regex every database,
// table, and user name must match before it is quoted and interpolated
// into SQL.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// reservedWords is a deny-list checked case-insensitively, independent
// of the regex.
var reservedWords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"drop": true, "create": true, "alter": true, "grant": true,
	"revoke": true, "union": true, "where": true, "table": true,
	"database": true, "schema": true, "from": true, "into": true,
}

// ValidateIdentifier checks name against the identifier-safety regex
// and the reserved-word deny-list (case-insensitive). kind labels the
// identifier's role ("database", "table", "user") in any returned
// error.
func ValidateIdentifier(kind, name string) error {
	if !identifierPattern.MatchString(name) {
		return apperrors.InvalidIdentifier(kind, name)
	}
	if reservedWords[strings.ToLower(name)] {
		return apperrors.InvalidIdentifier(kind, name)
	}
	return nil
}

// QuotePostgres quotes an already-validated identifier in PostgreSQL/
// CockroachDB dialect (double quotes, internal quotes doubled).
func QuotePostgres(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteMySQL quotes an already-validated identifier in MySQL/MariaDB
// dialect (backticks, internal backticks doubled).
func QuoteMySQL(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
