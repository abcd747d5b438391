package versiongate

import (
	"strings"
	"testing"

	"github.com/dbforge/dbforge/internal/apperrors"
	"github.com/stretchr/testify/require"
)

func TestParseToolVersionPgRestore(t *testing.T) {
	v, err := ParseToolVersion("pg_restore (PostgreSQL) 14.9 (Homebrew)")
	require.NoError(t, err)
	require.Equal(t, Version{Major: 14, Minor: 9, Patch: 0}, v)
}

func TestParseToolVersionWithPatch(t *testing.T) {
	v, err := ParseToolVersion("mysql  Ver 8.0.36 for Linux on x86_64")
	require.NoError(t, err)
	require.Equal(t, Version{Major: 8, Minor: 0, Patch: 36}, v)
}

func TestParseToolVersionNoMatch(t *testing.T) {
	_, err := ParseToolVersion("not a version string at all")
	require.Error(t, err)
}

func TestParseDumpVersionFromTextFindsMarker(t *testing.T) {
	text := "--\n-- PostgreSQL database dump\n--\n\n-- Dumped from database version 13.4\n"
	v := ParseDumpVersionFromText(strings.NewReader(text), 50)
	require.NotNil(t, v)
	require.Equal(t, Version{Major: 13, Minor: 4, Patch: 0}, *v)
}

func TestParseDumpVersionFromTextAbsent(t *testing.T) {
	v := ParseDumpVersionFromText(strings.NewReader("CREATE TABLE foo (id int);\n"), 50)
	require.Nil(t, v)
}

func TestCheckUnknownDumpVersionIsCompatibleWithWarning(t *testing.T) {
	result := Check("postgresql", nil, Version{Major: 14})
	require.True(t, result.Compatible)
	require.NotEmpty(t, result.Warning)
}

func TestCheckNewerDumpThanToolIsIncompatible(t *testing.T) {
	dump := Version{Major: 16}
	result := Check("postgresql", &dump, Version{Major: 14})
	require.False(t, result.Compatible)
	require.Error(t, result.Error)
	var appErr *apperrors.Error
	require.ErrorAs(t, result.Error, &appErr)
	require.Equal(t, apperrors.CodeVersionMismatch, appErr.Code)
}

func TestCheckVeryOldDumpIsCompatibleWithWarning(t *testing.T) {
	dump := Version{Major: 9}
	result := Check("postgresql", &dump, Version{Major: 14})
	require.True(t, result.Compatible)
	require.NotEmpty(t, result.Warning)
}

func TestCheckCloseVersionsNoWarning(t *testing.T) {
	dump := Version{Major: 13}
	result := Check("postgresql", &dump, Version{Major: 14})
	require.True(t, result.Compatible)
	require.Empty(t, result.Warning)
}
