package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	return New(paths.New(root), nil)
}

func TestValidateNameAcceptsLettersDigitsHyphenUnderscore(t *testing.T) {
	require.NoError(t, ValidateName("my-db_1"))
	require.Error(t, ValidateName("1bad"))
	require.Error(t, ValidateName("-bad"))
	require.Error(t, ValidateName(""))
}

func TestCreateAllocatesPortAndPersistsManifest(t *testing.T) {
	m := testManager(t)
	c, err := m.Create("redis", "cache1", "7.2", CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, "cache1", c.Manifest.Name)
	require.Equal(t, StatusCreated, c.Manifest.Status)
	require.Equal(t, []string{"cache1"}, c.Manifest.Databases)

	desc, _ := engine.Lookup("redis")
	require.GreaterOrEqual(t, c.Manifest.Port, desc.PortRangeStart)
	require.LessOrEqual(t, c.Manifest.Port, desc.PortRangeEnd)

	_, err = os.Stat(c.ManifestFile)
	require.NoError(t, err)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "dup", "7.2", CreateOptions{})
	require.NoError(t, err)

	_, err = m.Create("redis", "dup", "7.2", CreateOptions{})
	require.Error(t, err)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "1bad", "7.2", CreateOptions{})
	require.Error(t, err)
}

func TestLoadRoundTripsManifest(t *testing.T) {
	m := testManager(t)
	created, err := m.Create("postgresql", "pg1", "16", CreateOptions{Database: "appdb"})
	require.NoError(t, err)

	loaded, err := m.Load("postgresql", "pg1")
	require.NoError(t, err)
	require.Equal(t, created.Manifest.Port, loaded.Manifest.Port)
	require.Equal(t, "appdb", loaded.Manifest.Database)
}

func TestListReturnsSortedContainers(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "zeta", "7.2", CreateOptions{})
	require.NoError(t, err)
	_, err = m.Create("redis", "alpha", "7.2", CreateOptions{})
	require.NoError(t, err)

	containers, err := m.List("redis")
	require.NoError(t, err)
	require.Len(t, containers, 2)
	require.Equal(t, "alpha", containers[0].Manifest.Name)
	require.Equal(t, "zeta", containers[1].Manifest.Name)
}

func TestListOnMissingEngineReturnsEmpty(t *testing.T) {
	m := testManager(t)
	containers, err := m.List("redis")
	require.NoError(t, err)
	require.Empty(t, containers)
}

func TestCloneCopiesDataAndRecordsProvenance(t *testing.T) {
	m := testManager(t)
	src, err := m.Create("redis", "source", "7.2", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src.DataDir, "dump.rdb"), []byte("rdb bytes"), 0o644))

	clone, err := m.Clone("redis", "source", "clone1")
	require.NoError(t, err)
	require.Equal(t, "source", clone.Manifest.ClonedFrom)
	require.NotEmpty(t, clone.Manifest.CloneID)
	// The stopped source holds no port, so the clone's free-port scan
	// lands on the same one.
	require.Equal(t, src.Manifest.Port, clone.Manifest.Port)

	data, err := os.ReadFile(filepath.Join(clone.DataDir, "dump.rdb"))
	require.NoError(t, err)
	require.Equal(t, "rdb bytes", string(data))
}

func TestRenameMovesDirectoryAndUpdatesManifest(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "before", "7.2", CreateOptions{})
	require.NoError(t, err)

	renamed, err := m.Rename("redis", "before", "after")
	require.NoError(t, err)
	require.Equal(t, "after", renamed.Manifest.Name)

	_, err = m.Load("redis", "after")
	require.NoError(t, err)
	_, err = m.Load("redis", "before")
	require.Error(t, err)
}

func TestRenameRejectsExistingTarget(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "one", "7.2", CreateOptions{})
	require.NoError(t, err)
	_, err = m.Create("redis", "two", "7.2", CreateOptions{})
	require.NoError(t, err)

	_, err = m.Rename("redis", "one", "two")
	require.Error(t, err)
}

func TestDeleteRemovesContainerDirectory(t *testing.T) {
	m := testManager(t)
	c, err := m.Create("redis", "gone", "7.2", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Delete("redis", "gone"))
	_, err = os.Stat(c.ManifestFile)
	require.True(t, os.IsNotExist(err))
}

func TestUpdateStatusPersists(t *testing.T) {
	m := testManager(t)
	c, err := m.Create("redis", "status1", "7.2", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(c, StatusRunning))

	reloaded, err := m.Load("redis", "status1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, reloaded.Manifest.Status)
}

func TestManifestRewriterUpdatesVersion(t *testing.T) {
	m := testManager(t)
	_, err := m.Create("redis", "ver1", "7.2", CreateOptions{})
	require.NoError(t, err)

	rewriter := m.NewManifestRewriter("redis")
	require.NoError(t, rewriter.RewriteVersion("ver1", "7.2.4"))

	reloaded, err := m.Load("redis", "ver1")
	require.NoError(t, err)
	require.Equal(t, "7.2.4", reloaded.Manifest.Version)
}

func TestContainerSatisfiesContainerRef(t *testing.T) {
	var _ engine.ContainerRef = (*Container)(nil)
}
