package engine

import (
	"context"

	"github.com/dbforge/dbforge/internal/backupformat"
)

// Progress reports fetch/download progress as a 0.0-1.0 fraction.
type Progress func(fraction float64, message string)

// StartResult is what Start returns once an engine is ready.
type StartResult struct {
	Port int
	URL  string
}

// StatusResult reports whether a container's engine process is alive.
type StatusResult struct {
	Running bool
	Message string
}

// BackupResult describes a completed backup.
type BackupResult struct {
	Path   string
	Format string
	Size   int64
}

// RestoreResult describes a completed (or failed) restore invocation.
type RestoreResult struct {
	Format string
	Stdout string
	Stderr string
	Code   int
}

// QueryResult is the tabular shape executeQuery returns.
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// Credentials is what createUser returns.
type Credentials struct {
	Username string
	Password string
}

// DumpResult is what dumpFromConnectionString returns.
type DumpResult struct {
	Path     string
	Warnings []string
}

// RunScriptInput is runScript's input: exactly one of File or SQL is set.
type RunScriptInput struct {
	File string
	SQL  string
}

// BackupOptions configures backup.
type BackupOptions struct {
	Database string
	Format   string
}

// RestoreOptions configures restore.
type RestoreOptions struct {
	Database string
}

// ExecuteQueryOptions configures executeQuery.
type ExecuteQueryOptions struct {
	Database string
}

// CreateUserInput is createUser's input.
type CreateUserInput struct {
	Username string
	Password string
	Database string
}

// ContainerRef is the minimal view of a container an Adapter needs: its
// name, assigned port, data/log/pid/config paths, and the binary
// directory to invoke tools from. internal/container.Container
// satisfies this directly through its accessor methods
// (internal/container/ref.go), so internal/engine never imports
// internal/container (avoiding a cycle).
type ContainerRef interface {
	ContainerName() string
	ContainerPort() int
	ContainerDataDir() string
	ContainerLogFile() string
	ContainerPidFile() string
	ContainerConfFile() string
	ContainerBinaryDir() string
	ContainerPrimaryDatabase() string
}

// Adapter is the uniform operation contract every engine family
// implements. Operations an engine family does not support return an
// *apperrors.Error with CodeUnsupportedOp.
type Adapter interface {
	Descriptor() Descriptor

	FetchAvailableVersions(ctx context.Context) (map[string][]string, error)
	EnsureBinaries(ctx context.Context, version string, progress Progress) (string, error)
	IsBinaryInstalled(version string) bool

	InitDataDir(ctx context.Context, c ContainerRef, version string, opts map[string]string) (string, error)
	Start(ctx context.Context, c ContainerRef, progress Progress) (StartResult, error)
	Stop(ctx context.Context, c ContainerRef) error
	Status(ctx context.Context, c ContainerRef) (StatusResult, error)

	Connect(ctx context.Context, c ContainerRef, database string) error
	CreateDatabase(ctx context.Context, c ContainerRef, name string) error
	DropDatabase(ctx context.Context, c ContainerRef, name string) error
	GetDatabaseSize(ctx context.Context, c ContainerRef) (int64, bool)
	ExecuteQuery(ctx context.Context, c ContainerRef, query string, opts ExecuteQueryOptions) (QueryResult, error)
	RunScript(ctx context.Context, c ContainerRef, in RunScriptInput) error

	Backup(ctx context.Context, c ContainerRef, outPath string, opts BackupOptions) (BackupResult, error)
	Restore(ctx context.Context, c ContainerRef, backupPath string, opts RestoreOptions) (RestoreResult, error)
	DetectBackupFormat(ctx context.Context, path string) (backupformat.Descriptor, error)
	DumpFromConnectionString(ctx context.Context, connStr, outPath string) (DumpResult, error)

	CreateUser(ctx context.Context, c ContainerRef, in CreateUserInput) (Credentials, error)
	ListDatabases(ctx context.Context, c ContainerRef) ([]string, error)
}
