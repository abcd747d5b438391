// Package httpengine implements the vector/search engine family
// (Qdrant, Weaviate, Meilisearch): these are treated purely as
// HTTP-protocol processes. Start/stop/status and snapshot-file
// restore are supported; SQL/query operations raise the typed
// unsupported-operation error since these engines have no relational
// surface in common.
package httpengine

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbforge/dbforge/internal/apperrors"
	"github.com/dbforge/dbforge/internal/backupformat"
	"github.com/dbforge/dbforge/internal/binaryregistry"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/logger"
)

// healthPaths is each engine's own readiness endpoint; they don't
// share one convention.
var healthPaths = map[string]string{
	"qdrant":      "/healthz",
	"weaviate":    "/v1/.well-known/ready",
	"meilisearch": "/health",
}

// Adapter implements engine.Adapter for qdrant, weaviate, and meilisearch.
type Adapter struct {
	engineName string
	binaries   *binaryregistry.Registry
	tools      *toolregistry.Registry
	supervisor *supervisor.Supervisor
	log        *logger.Logger
	httpClient *http.Client
}

// New builds an Adapter for engineName.
func New(engineName string, binaries *binaryregistry.Registry, tools *toolregistry.Registry, sup *supervisor.Supervisor, log *logger.Logger) *Adapter {
	return &Adapter{
		engineName: engineName,
		binaries:   binaries,
		tools:      tools,
		supervisor: sup,
		log:        log,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc, _ := engine.Lookup(a.engineName)
	return desc
}

func (a *Adapter) binaryTool() string { return a.Descriptor().RequiredTools[0] }

func (a *Adapter) toolPath(c engine.ContainerRef, tool string) string {
	if a.tools != nil {
		if p := a.tools.GetPath(tool); p != "" && strings.HasPrefix(p, c.ContainerBinaryDir()) {
			return p
		}
	}
	return filepath.Join(c.ContainerBinaryDir(), "bin", tool+platform.ExecutableExtension())
}

func (a *Adapter) FetchAvailableVersions(ctx context.Context) (map[string][]string, error) {
	desc := a.Descriptor()
	out := map[string][]string{}
	for shorthand, full := range desc.VersionMap {
		out[shorthand] = append(out[shorthand], full)
	}
	return out, nil
}

func (a *Adapter) EnsureBinaries(ctx context.Context, version string, progress engine.Progress) (string, error) {
	result, err := a.binaries.Resolve(ctx, a.engineName, version, "", nil, progress)
	if err != nil {
		return "", err
	}
	return result.Directory, nil
}

func (a *Adapter) IsBinaryInstalled(version string) bool {
	return a.binaries.IsInstalled(a.engineName, version)
}

// InitDataDir for HTTP engines is just ensuring the directory exists;
// each engine bootstraps its own on-disk layout on first start.
func (a *Adapter) InitDataDir(ctx context.Context, c engine.ContainerRef, version string, opts map[string]string) (string, error) {
	dataDir := c.ContainerDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dataDir, nil
}

func (a *Adapter) startArgs(c engine.ContainerRef) []string {
	switch a.engineName {
	case "qdrant":
		return []string{"--config-path", c.ContainerConfFile()}
	case "weaviate":
		return []string{"--host", "127.0.0.1", "--port", fmt.Sprintf("%d", c.ContainerPort()), "--scheme", "http"}
	case "meilisearch":
		return []string{"--db-path", c.ContainerDataDir(), "--http-addr", fmt.Sprintf("127.0.0.1:%d", c.ContainerPort())}
	default:
		return nil
	}
}

func (a *Adapter) Start(ctx context.Context, c engine.ContainerRef, progress engine.Progress) (engine.StartResult, error) {
	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c)}, nil
	}

	cmd := exec.Command(a.toolPath(c, a.binaryTool()), a.startArgs(c)...)

	if progress != nil {
		progress(0.2, "spawning")
	}
	if _, err := a.supervisor.Spawn(cmd, c.ContainerPidFile(), c.ContainerLogFile(), false); err != nil {
		return engine.StartResult{}, fmt.Errorf("spawn %s: %w", a.engineName, err)
	}

	if progress != nil {
		progress(0.6, "waiting for readiness")
	}
	ready := a.supervisor.WaitReady(ctx, 60*time.Second, func() bool {
		return a.healthy(ctx, c)
	})
	if !ready {
		_ = a.supervisor.Stop(ctx, c.ContainerPidFile(), nil)
		return engine.StartResult{}, fmt.Errorf("%s did not become ready within timeout", a.engineName)
	}

	if progress != nil {
		progress(1.0, "ready")
	}
	return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c)}, nil
}

func (a *Adapter) healthy(ctx context.Context, c engine.ContainerRef) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	url := fmt.Sprintf("http://127.0.0.1:%d%s", c.ContainerPort(), healthPaths[a.engineName])
	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Stop has no documented graceful shutdown RPC shared across these
// three engines, so the supervisor starts directly at the signaled
// stage of its escalation.
func (a *Adapter) Stop(ctx context.Context, c engine.ContainerRef) error {
	return a.supervisor.Stop(ctx, c.ContainerPidFile(), nil)
}

func (a *Adapter) Status(ctx context.Context, c engine.ContainerRef) (engine.StatusResult, error) {
	s := a.supervisor.Status(c.ContainerPidFile())
	return engine.StatusResult{Running: s.Running, Message: s.Message}, nil
}

func (a *Adapter) connectionURL(c engine.ContainerRef) string {
	return fmt.Sprintf("%s://127.0.0.1:%d", a.Descriptor().URLScheme, c.ContainerPort())
}

func (a *Adapter) Connect(ctx context.Context, c engine.ContainerRef, database string) error {
	if !a.healthy(ctx, c) {
		return apperrors.ConnectionFailed(a.connectionURL(c), fmt.Errorf("health check failed"))
	}
	return nil
}

// CreateDatabase/DropDatabase/GetDatabaseSize/ExecuteQuery/RunScript/
// CreateUser/ListDatabases have no analog across these three engines'
// wildly different collection/index models, so the contract's
// unsupported-operation error is the honest answer for all of them.
func (a *Adapter) CreateDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	return apperrors.UnsupportedOp(a.engineName, "createDatabase")
}

func (a *Adapter) DropDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	return apperrors.UnsupportedOp(a.engineName, "dropDatabase")
}

func (a *Adapter) GetDatabaseSize(ctx context.Context, c engine.ContainerRef) (int64, bool) {
	return 0, false
}

func (a *Adapter) ExecuteQuery(ctx context.Context, c engine.ContainerRef, query string, opts engine.ExecuteQueryOptions) (engine.QueryResult, error) {
	return engine.QueryResult{}, apperrors.UnsupportedOp(a.engineName, "executeQuery")
}

func (a *Adapter) RunScript(ctx context.Context, c engine.ContainerRef, in engine.RunScriptInput) error {
	return apperrors.UnsupportedOp(a.engineName, "runScript")
}

// Backup copies the data directory's on-disk snapshot files after the
// engine is stopped, since none of the three engines share a common
// live-backup RPC.
func (a *Adapter) Backup(ctx context.Context, c engine.ContainerRef, outPath string, opts engine.BackupOptions) (engine.BackupResult, error) {
	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.BackupResult{}, fmt.Errorf("%s must be stopped before a snapshot backup can be taken", a.engineName)
	}
	if err := archiveDir(c.ContainerDataDir(), outPath); err != nil {
		return engine.BackupResult{}, err
	}
	info, err := os.Stat(outPath)
	var size int64
	if err == nil {
		size = info.Size()
	}
	return engine.BackupResult{Path: outPath, Format: "snapshot", Size: size}, nil
}

// Restore replaces the data directory's contents with the snapshot
// archive while the engine is stopped.
func (a *Adapter) Restore(ctx context.Context, c engine.ContainerRef, backupPath string, opts engine.RestoreOptions) (engine.RestoreResult, error) {
	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.RestoreResult{}, fmt.Errorf("%s must be stopped before a snapshot can be restored", a.engineName)
	}
	desc, err := backupformat.Detect(backupPath, backupformat.FamilyVector)
	if err != nil {
		return engine.RestoreResult{}, err
	}
	if err := os.RemoveAll(c.ContainerDataDir()); err != nil {
		return engine.RestoreResult{}, fmt.Errorf("clear data dir: %w", err)
	}
	if err := os.MkdirAll(c.ContainerDataDir(), 0o755); err != nil {
		return engine.RestoreResult{}, fmt.Errorf("recreate data dir: %w", err)
	}
	if err := extractArchive(backupPath, c.ContainerDataDir()); err != nil {
		return engine.RestoreResult{}, fmt.Errorf("extract snapshot: %w", err)
	}
	return engine.RestoreResult{Format: string(desc.Tag)}, nil
}

func (a *Adapter) DetectBackupFormat(ctx context.Context, path string) (backupformat.Descriptor, error) {
	return backupformat.Detect(path, backupformat.FamilyVector)
}

func (a *Adapter) DumpFromConnectionString(ctx context.Context, connStr, outPath string) (engine.DumpResult, error) {
	return engine.DumpResult{}, apperrors.UnsupportedOp(a.engineName, "dumpFromConnectionString")
}

func (a *Adapter) CreateUser(ctx context.Context, c engine.ContainerRef, in engine.CreateUserInput) (engine.Credentials, error) {
	return engine.Credentials{}, apperrors.UnsupportedOp(a.engineName, "createUser")
}

func (a *Adapter) ListDatabases(ctx context.Context, c engine.ContainerRef) ([]string, error) {
	return nil, apperrors.UnsupportedOp(a.engineName, "listDatabases")
}

// archiveDir writes a gzip-compressed tar of dataDir to outPath.
func archiveDir(dataDir, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()
	return writeTarGz(dataDir, out)
}

// extractArchive unpacks a gzip-compressed tar into destDir.
func extractArchive(archivePath, destDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer in.Close()
	return readTarGz(in, destDir)
}
