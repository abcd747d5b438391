package toolregistry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbforge/dbforge/pkg/logger"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewDefault("test")
}

func TestSetPathAndGetPathRoundTrip(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "config.json")
	r := New(regPath, testLogger())

	toolPath := filepath.Join(dir, "mytool")
	require.NoError(t, os.WriteFile(toolPath, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	r.SetPath("mytool", toolPath, ProvenanceBundled)
	require.Equal(t, toolPath, r.GetPath("mytool"))

	reloaded := New(regPath, testLogger())
	require.Equal(t, toolPath, reloaded.GetPath("mytool"))
}

func TestGetPathEvictsMissingFile(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "config.json"), testLogger())

	ghost := filepath.Join(dir, "ghost")
	require.NoError(t, os.WriteFile(ghost, []byte("x"), 0o755))
	r.SetPath("ghost", ghost, ProvenanceSystem)
	require.NoError(t, os.Remove(ghost))

	require.Empty(t, r.GetPath("ghost"))
}

func TestCorruptJSONResetsToDefaults(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(regPath, []byte("{not valid json"), 0o644))

	r := New(regPath, testLogger())
	require.Empty(t, r.Entries())
}

func TestClearAndClearAll(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "config.json"), testLogger())

	toolPath := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(toolPath, []byte("x"), 0o755))
	r.SetPath("a", toolPath, ProvenanceBundled)
	r.SetPath("b", toolPath, ProvenanceBundled)

	r.Clear("a")
	entries := r.Entries()
	require.NotContains(t, entries, "a")
	require.Contains(t, entries, "b")

	r.ClearAll()
	require.Empty(t, r.Entries())
}

func TestIsStaleAndRefresh(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "config.json")
	r := New(regPath, testLogger())
	r.doc.UpdatedAt = time.Now().Add(-8 * 24 * time.Hour)

	require.True(t, r.IsStale())

	toolPath := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(toolPath, []byte("x"), 0o755))
	r.SetPath("a", toolPath, ProvenanceBundled)
	r.doc.UpdatedAt = time.Now().Add(-8 * 24 * time.Hour)

	r.RefreshIfStale()
	require.Empty(t, r.Entries())
}
