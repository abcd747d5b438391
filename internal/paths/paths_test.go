package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministicPaths(t *testing.T) {
	s := New("/root/.dbforge")

	require.Equal(t, "/root/.dbforge/config.json", s.ConfigFile())
	require.Equal(t, "/root/.dbforge/bin/postgresql-16.1-linux-x64", s.BinaryRoot("postgresql", "16.1", "linux", "x64"))
	require.Equal(t, "/root/.dbforge/bin/postgresql-16.1-linux-x64/bin/psql", s.BinaryPath("postgresql", "16.1", "linux", "x64", "psql"))
	require.Equal(t, "/root/.dbforge/containers/postgresql/mydb", s.ContainerRoot("postgresql", "mydb"))
	require.Equal(t, "/root/.dbforge/containers/postgresql/mydb/container.json", s.ManifestFile("postgresql", "mydb"))
	require.Equal(t, "/root/.dbforge/containers/postgresql/mydb/data", s.DataDir("postgresql", "mydb"))
}

func TestFindInstalledBinaryForMajorFindsSameMajor(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin", "postgresql-16.3-linux-x64", "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin", "postgresql-15.2-linux-x64", "bin"), 0o755))

	version, ok := s.FindInstalledBinaryForMajor("postgresql", "16", "linux", "x64")
	require.True(t, ok)
	require.Equal(t, "16.3", version)

	_, ok = s.FindInstalledBinaryForMajor("postgresql", "17", "linux", "x64")
	require.False(t, ok)
}
