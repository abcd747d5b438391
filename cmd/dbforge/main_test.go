package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("DBFORGE_ROOT", t.TempDir())
	t.Setenv("DBFORGE_CONFIG_FILE", "")
	a, err := newApp()
	require.NoError(t, err)
	return a
}

func TestNewAppWiresOneAdapterPerEngine(t *testing.T) {
	a := testApp(t)
	for _, name := range []string{"postgresql", "cockroachdb", "mysql", "mariadb", "redis", "valkey", "qdrant", "weaviate", "meilisearch"} {
		_, err := a.adapterFor(name)
		require.NoError(t, err, "expected an adapter wired for %s", name)
	}
}

func TestAdapterForUnknownEngineErrors(t *testing.T) {
	a := testApp(t)
	_, err := a.adapterFor("oracle")
	require.Error(t, err)
}

func TestCmdCreateRejectsMissingArgs(t *testing.T) {
	a := testApp(t)
	require.Error(t, cmdCreate(a, []string{"redis"}))
}

func TestCmdCreateRejectsUnknownEngine(t *testing.T) {
	a := testApp(t)
	require.Error(t, cmdCreate(a, []string{"oracle", "db1"}))
}

func TestRequireContainerRejectsMissingArgs(t *testing.T) {
	a := testApp(t)
	_, _, _, err := requireContainer(a, []string{"redis"}, "dbforge start <engine> <name>")
	require.Error(t, err)
}

func TestRequireContainerRejectsUnloadedContainer(t *testing.T) {
	a := testApp(t)
	_, _, _, err := requireContainer(a, []string{"redis", "does-not-exist"}, "dbforge start <engine> <name>")
	require.Error(t, err)
}

func TestCmdEnginesListsEveryEngine(t *testing.T) {
	a := testApp(t)
	require.NoError(t, cmdEngines(a, nil))
}

func TestCmdListOnEmptyEngineSucceeds(t *testing.T) {
	a := testApp(t)
	require.NoError(t, cmdList(a, []string{"redis"}))
}
