package engine

import "strings"

// EscapeSQLValue renders a CSV-sourced field as a SQL literal for the
// synthetic INSERT statements the CockroachDB remote-dump path builds.
//
// dbforge always uses the string-literal variant: every non-null
// value is emitted as a single-quoted string literal (with internal
// quotes doubled), regardless of whether it looks numeric or boolean.
// quoted distinguishes a CSV-quoted empty field ("") from a true NULL
// marker (an unquoted empty field).
func EscapeSQLValue(value string, quoted bool) string {
	if value == "" && !quoted {
		return "NULL"
	}
	if value == "" && quoted {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
