package httpengine

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/testutil"
)

type fakeContainer struct {
	name, dataDir, logFile, pidFile, confFile, binaryDir, primaryDB string
	port                                                            int
}

func (f fakeContainer) ContainerName() string          { return f.name }
func (f fakeContainer) ContainerPort() int              { return f.port }
func (f fakeContainer) ContainerDataDir() string        { return f.dataDir }
func (f fakeContainer) ContainerLogFile() string        { return f.logFile }
func (f fakeContainer) ContainerPidFile() string        { return f.pidFile }
func (f fakeContainer) ContainerConfFile() string       { return f.confFile }
func (f fakeContainer) ContainerBinaryDir() string      { return f.binaryDir }
func (f fakeContainer) ContainerPrimaryDatabase() string { return f.primaryDB }

var _ engine.ContainerRef = fakeContainer{}
var _ engine.Adapter = (*Adapter)(nil)

func TestDescriptorForEachHTTPEngine(t *testing.T) {
	for _, name := range []string{"qdrant", "weaviate", "meilisearch"} {
		a := New(name, nil, nil, nil, nil)
		require.Equal(t, name, a.Descriptor().Name)
	}
}

func TestConnectionURLUsesHTTPScheme(t *testing.T) {
	a := New("qdrant", nil, nil, nil, nil)
	c := fakeContainer{port: 6333}
	require.Equal(t, "http://127.0.0.1:6333", a.connectionURL(c))
}

func TestStartArgsDifferByEngine(t *testing.T) {
	c := fakeContainer{port: 8079, dataDir: "/data", confFile: "/data/config.yaml"}

	qdrant := New("qdrant", nil, nil, nil, nil)
	require.Contains(t, qdrant.startArgs(c), "--config-path")

	weaviate := New("weaviate", nil, nil, nil, nil)
	require.Contains(t, weaviate.startArgs(c), "--port")

	meili := New("meilisearch", nil, nil, nil, nil)
	require.Contains(t, meili.startArgs(c), "--db-path")
}

func TestHealthyUsesPerEngineHealthPath(t *testing.T) {
	var requestedPath string
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	port := testutil.ServerPort(t, server.URL)
	a := New("meilisearch", nil, nil, nil, nil)
	c := fakeContainer{port: port}
	require.True(t, a.healthy(context.Background(), c))
	require.Equal(t, "/health", requestedPath)
}

func TestUnsupportedOperations(t *testing.T) {
	a := New("qdrant", nil, nil, nil, nil)
	ctx := context.Background()
	c := fakeContainer{}

	require.Error(t, a.CreateDatabase(ctx, c, "x"))
	require.Error(t, a.DropDatabase(ctx, c, "x"))
	require.Error(t, a.RunScript(ctx, c, engine.RunScriptInput{}))
	_, err := a.ExecuteQuery(ctx, c, "q", engine.ExecuteQueryOptions{})
	require.Error(t, err)
	_, err = a.CreateUser(ctx, c, engine.CreateUserInput{})
	require.Error(t, err)
	_, err = a.ListDatabases(ctx, c)
	require.Error(t, err)
	_, err = a.DumpFromConnectionString(ctx, "http://x", "/tmp/out")
	require.Error(t, err)
}

func TestArchiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "segment.bin"), []byte("snapshot data"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "nested.bin"), []byte("nested"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "snapshot.tar.gz")
	require.NoError(t, archiveDir(srcDir, archivePath))

	destDir := t.TempDir()
	require.NoError(t, extractArchive(archivePath, destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "segment.bin"))
	require.NoError(t, err)
	require.Equal(t, "snapshot data", string(data))

	nested, err := os.ReadFile(filepath.Join(destDir, "sub", "nested.bin"))
	require.NoError(t, err)
	require.Equal(t, "nested", string(nested))
}

func TestBackupRefusesWhileRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "qdrant.pid")
	// os.Getpid() is this test process's own PID: guaranteed alive,
	// giving a deterministic "still running" signal without spawning a
	// real engine subprocess.
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	a := New("qdrant", nil, nil, nil, nil)
	_, err := a.Backup(context.Background(), fakeContainer{pidFile: pidFile, dataDir: dir}, filepath.Join(dir, "out.tar.gz"), engine.BackupOptions{})
	require.Error(t, err)
}
