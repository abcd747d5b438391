package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentifierAcceptsValidNames(t *testing.T) {
	for _, name := range []string{"mydb", "my_db", "A1", "_leading", "n1ce"} {
		require.NoError(t, ValidateIdentifier("database", name), name)
	}
}

func TestValidateIdentifierRejectsBadShapes(t *testing.T) {
	for _, name := range []string{"1db", "-db", "my db", "my.db", "", "select", "SELECT", "DROP"} {
		require.Error(t, ValidateIdentifier("database", name), name)
	}
}

func TestQuotePostgresRoundTrips(t *testing.T) {
	quoted := QuotePostgres(`weird"name`)
	require.Equal(t, `"weird""name"`, quoted)
}

func TestQuoteMySQLRoundTrips(t *testing.T) {
	quoted := QuoteMySQL("weird`name")
	require.Equal(t, "`weird``name`", quoted)
}
