// Package postgres implements the PostgreSQL-wire family adapter
// (PostgreSQL and CockroachDB).
package postgres

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dbforge/dbforge/internal/apperrors"
	"github.com/dbforge/dbforge/internal/backupformat"
	"github.com/dbforge/dbforge/internal/binaryregistry"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/internal/versiongate"
	"github.com/dbforge/dbforge/pkg/logger"
)

// Adapter implements engine.Adapter for postgresql and cockroachdb,
// the two registered engines in engine.FamilyPostgresWire.
type Adapter struct {
	engineName string
	binaries   *binaryregistry.Registry
	tools      *toolregistry.Registry
	supervisor *supervisor.Supervisor
	log        *logger.Logger
}

// New builds an Adapter for engineName ("postgresql" or "cockroachdb").
func New(engineName string, binaries *binaryregistry.Registry, tools *toolregistry.Registry, sup *supervisor.Supervisor, log *logger.Logger) *Adapter {
	return &Adapter{engineName: engineName, binaries: binaries, tools: tools, supervisor: sup, log: log}
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc, _ := engine.Lookup(a.engineName)
	return desc
}

func (a *Adapter) isCockroach() bool { return a.engineName == "cockroachdb" }

func (a *Adapter) primaryTool() string {
	if a.isCockroach() {
		return "cockroach"
	}
	return "psql"
}

func (a *Adapter) toolPath(c engine.ContainerRef, tool string) string {
	if a.tools != nil {
		if p := a.tools.GetPath(tool); p != "" && strings.HasPrefix(p, c.ContainerBinaryDir()) {
			return p
		}
	}
	return filepath.Join(c.ContainerBinaryDir(), "bin", tool+platform.ExecutableExtension())
}

// FetchAvailableVersions returns the descriptor's shorthand -> full
// version map, grouped by the major each shorthand resolves to.
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

// InitDataDir runs initdb (PostgreSQL) or leaves CockroachDB's
// data directory to be created implicitly on first start, then
// patches the engine config file to set max_connections.
func (a *Adapter) InitDataDir(ctx context.Context, c engine.ContainerRef, version string, opts map[string]string) (string, error) {
	dataDir := c.ContainerDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	if a.isCockroach() {
		// CockroachDB initializes its store directory lazily on first
		// "start --insecure"; nothing to pre-initialize here.
		return dataDir, nil
	}

	initdb := a.toolPath(c, "initdb")
	args := []string{"-D", dataDir, "-U", a.Descriptor().DefaultSuperuser, "--auth=trust"}
	cmd := exec.CommandContext(ctx, initdb, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("initdb: %w: %s", err, string(out))
	}

	maxConns := a.Descriptor().DefaultMaxConns
	if v, ok := opts["max_connections"]; ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			maxConns = parsed
		}
	}
	if err := patchMaxConnections(filepath.Join(dataDir, "postgresql.conf"), maxConns); err != nil {
		return "", fmt.Errorf("patch postgresql.conf: %w", err)
	}
	return dataDir, nil
}

func patchMaxConnections(confPath string, maxConns int) error {
	data, err := os.ReadFile(confPath)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	found := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "max_connections") {
			lines[i] = fmt.Sprintf("max_connections = %d", maxConns)
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, fmt.Sprintf("max_connections = %d", maxConns))
	}
	return os.WriteFile(confPath, []byte(strings.Join(lines, "\n")), 0o644)
}

// Start spawns the engine detached and waits for readiness. Idempotent:
// if already running, returns the current endpoint.
func (a *Adapter) Start(ctx context.Context, c engine.ContainerRef, progress engine.Progress) (engine.StartResult, error) {
	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c, c.ContainerPrimaryDatabase())}, nil
	}

	var cmd *exec.Cmd
	if a.isCockroach() {
		bin := a.toolPath(c, "cockroach")
		cmd = exec.Command(bin, "start-single-node", "--insecure",
			fmt.Sprintf("--listen-addr=127.0.0.1:%d", c.ContainerPort()),
			"--store="+c.ContainerDataDir())
	} else {
		bin := a.toolPath(c, "postgres")
		cmd = exec.Command(bin, "-D", c.ContainerDataDir(), "-p", strconv.Itoa(c.ContainerPort()), "-k", c.ContainerDataDir())
	}

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
		return a.ping(ctx, c)
	})
	if !ready {
		_ = a.supervisor.Stop(ctx, c.ContainerPidFile(), nil)
		return engine.StartResult{}, fmt.Errorf("%s did not become ready within timeout", a.engineName)
	}

	if progress != nil {
		progress(1.0, "ready")
	}
	return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c, c.ContainerPrimaryDatabase())}, nil
}

func (a *Adapter) ping(ctx context.Context, c engine.ContainerRef) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	tool := a.primaryTool()
	cmd := exec.CommandContext(pingCtx, a.toolPath(c, tool), a.pingArgs(c)...)
	return cmd.Run() == nil
}

func (a *Adapter) pingArgs(c engine.ContainerRef) []string {
	if a.isCockroach() {
		return []string{"sql", "--insecure", "--host", fmt.Sprintf("127.0.0.1:%d", c.ContainerPort()), "-e", "SELECT 1"}
	}
	return []string{"-h", "127.0.0.1", "-p", strconv.Itoa(c.ContainerPort()), "-U", a.Descriptor().DefaultSuperuser, "-d", "postgres", "-c", "SELECT 1"}
}

func (a *Adapter) Stop(ctx context.Context, c engine.ContainerRef) error {
	graceful := func(ctx context.Context) error {
		if a.isCockroach() {
			cmd := exec.CommandContext(ctx, a.toolPath(c, "cockroach"), "quit", "--insecure",
				"--host", fmt.Sprintf("127.0.0.1:%d", c.ContainerPort()))
			return cmd.Run()
		}
		cmd := exec.CommandContext(ctx, a.toolPath(c, "pg_ctl"), "stop", "-D", c.ContainerDataDir(), "-m", "fast")
		return cmd.Run()
	}
	return a.supervisor.Stop(ctx, c.ContainerPidFile(), graceful)
}

func (a *Adapter) Status(ctx context.Context, c engine.ContainerRef) (engine.StatusResult, error) {
	s := a.supervisor.Status(c.ContainerPidFile())
	return engine.StatusResult{Running: s.Running, Message: s.Message}, nil
}

func (a *Adapter) connectionURL(c engine.ContainerRef, database string) string {
	scheme := a.Descriptor().URLScheme
	user := a.Descriptor().DefaultSuperuser
	suffix := ""
	if !a.isCockroach() {
		suffix = "?sslmode=disable"
	}
	return fmt.Sprintf("%s://%s@127.0.0.1:%d/%s%s", scheme, user, c.ContainerPort(), database, suffix)
}

func (a *Adapter) dsn(c engine.ContainerRef, database string) string {
	if database == "" {
		database = "postgres"
	}
	return fmt.Sprintf("host=127.0.0.1 port=%d user=%s dbname=%s sslmode=disable",
		c.ContainerPort(), a.Descriptor().DefaultSuperuser, database)
}

func (a *Adapter) open(c engine.ContainerRef, database string) (*sqlx.DB, error) {
	dsn := a.dsn(c, database)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, apperrors.ConnectionFailed(dsn, err)
	}
	return db, nil
}

func (a *Adapter) Connect(ctx context.Context, c engine.ContainerRef, database string) error {
	db, err := a.open(c, database)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func (a *Adapter) CreateDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	if err := engine.ValidateIdentifier("database", name); err != nil {
		return err
	}
	db, err := a.open(c, "")
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", engine.QuotePostgres(name)))
	return err
}

func (a *Adapter) DropDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	if err := engine.ValidateIdentifier("database", name); err != nil {
		return err
	}
	db, err := a.open(c, "")
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", engine.QuotePostgres(name)))
	return err
}

func (a *Adapter) GetDatabaseSize(ctx context.Context, c engine.ContainerRef) (int64, bool) {
	db, err := a.open(c, c.ContainerPrimaryDatabase())
	if err != nil {
		return 0, false
	}
	defer db.Close()
	var size int64
	if err := db.GetContext(ctx, &size, "SELECT pg_database_size(current_database())"); err != nil {
		return 0, false
	}
	return size, true
}

func (a *Adapter) ExecuteQuery(ctx context.Context, c engine.ContainerRef, query string, opts engine.ExecuteQueryOptions) (engine.QueryResult, error) {
	db, err := a.open(c, opts.Database)
	if err != nil {
		return engine.QueryResult{}, err
	}
	defer db.Close()

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return engine.QueryResult{}, err
	}
	defer rows.Close()

	return scanQueryResult(rows)
}

// scanQueryResult drains rows into a QueryResult. Split out of
// ExecuteQuery so it can be exercised against a sqlmock-backed
// *sqlx.Rows without spawning a real engine.
func scanQueryResult(rows *sqlx.Rows) (engine.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return engine.QueryResult{}, err
	}

	result := engine.QueryResult{Columns: cols}
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return engine.QueryResult{}, err
		}
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = stringifyCell(v)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

func stringifyCell(v interface{}) string {
	if v == nil {
		return ""
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func (a *Adapter) RunScript(ctx context.Context, c engine.ContainerRef, in engine.RunScriptInput) error {
	tool := a.primaryTool()
	var args []string
	if a.isCockroach() {
		args = []string{"sql", "--insecure", "--host", fmt.Sprintf("127.0.0.1:%d", c.ContainerPort())}
	} else {
		args = []string{"-h", "127.0.0.1", "-p", strconv.Itoa(c.ContainerPort()), "-U", a.Descriptor().DefaultSuperuser, "-d", c.ContainerPrimaryDatabase()}
	}

	cmd := exec.CommandContext(ctx, a.toolPath(c, tool), args...)
	if in.File != "" {
		f, err := os.Open(in.File)
		if err != nil {
			return err
		}
		defer f.Close()
		cmd.Stdin = f
	} else {
		cmd.Stdin = strings.NewReader(in.SQL)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run script: %w: %s", err, string(out))
	}
	return nil
}

// Backup prefers the native archive (custom) format; callers pass
// opts.Format == "sql" for a plain-text dump.
func (a *Adapter) Backup(ctx context.Context, c engine.ContainerRef, outPath string, opts engine.BackupOptions) (engine.BackupResult, error) {
	database := opts.Database
	if database == "" {
		database = c.ContainerPrimaryDatabase()
	}

	if a.isCockroach() {
		result, err := a.DumpFromConnectionString(ctx, a.dsn(c, database), outPath)
		if err != nil {
			return engine.BackupResult{}, err
		}
		info, _ := os.Stat(outPath)
		var size int64
		if info != nil {
			size = info.Size()
		}
		_ = result
		return engine.BackupResult{Path: outPath, Format: "sql", Size: size}, nil
	}

	format := "custom"
	formatFlag := "-Fc"
	if opts.Format == "sql" {
		format = "sql"
		formatFlag = "-Fp"
	}

	args := []string{"-h", "127.0.0.1", "-p", strconv.Itoa(c.ContainerPort()), "-U", a.Descriptor().DefaultSuperuser,
		formatFlag, "-f", outPath, database}
	cmd := exec.CommandContext(ctx, a.toolPath(c, "pg_dump"), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return engine.BackupResult{}, fmt.Errorf("pg_dump: %w: %s", err, string(out))
	}

	info, err := os.Stat(outPath)
	var size int64
	if err == nil {
		size = info.Size()
	}
	return engine.BackupResult{Path: outPath, Format: format, Size: size}, nil
}

func (a *Adapter) Restore(ctx context.Context, c engine.ContainerRef, backupPath string, opts engine.RestoreOptions) (engine.RestoreResult, error) {
	database := opts.Database
	if database == "" {
		database = c.ContainerPrimaryDatabase()
	}

	desc, err := backupformat.Detect(backupPath, backupformat.FamilyPostgres)
	if err != nil {
		return engine.RestoreResult{}, err
	}
	if err := backupformat.AssertCompatibleFormat(desc, a.engineName, guessEngineFromTag(desc.Tag)); err != nil {
		return engine.RestoreResult{}, err
	}

	if desc.Tag == backupformat.TagCustom {
		restoreTool := a.toolPath(c, "pg_restore")
		if err := a.checkRestoreVersion(ctx, restoreTool, backupPath); err != nil {
			return engine.RestoreResult{}, err
		}

		args := []string{"-h", "127.0.0.1", "-p", strconv.Itoa(c.ContainerPort()), "-U", a.Descriptor().DefaultSuperuser,
			"--no-owner", "--no-privileges", "-d", database, backupPath}
		cmd := exec.CommandContext(ctx, restoreTool, args...)
		var stdout, stderr strings.Builder
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		result := engine.RestoreResult{Format: string(desc.Tag), Stdout: stdout.String(), Stderr: stderr.String()}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Code = exitErr.ExitCode()
		}
		return result, err
	}

	// Plain SQL: stream via client tool stdin.
	return engine.RestoreResult{}, a.RunScript(ctx, c, engine.RunScriptInput{File: backupPath})
}

// checkRestoreVersion guards an archive restore against a dump taken
// from a newer major version than the available pg_restore. A nil
// dump version (no "Dumped from database version" marker found) or a
// tool --version we can't parse are both treated as compatible, since
// the gate's job is to catch a known-bad restore, not to require
// every archive to carry a recognizable marker.
func (a *Adapter) checkRestoreVersion(ctx context.Context, restoreTool, backupPath string) error {
	out, err := exec.CommandContext(ctx, restoreTool, "--version").Output()
	if err != nil {
		return nil
	}
	toolVersion, err := versiongate.ParseToolVersion(string(out))
	if err != nil {
		return nil
	}
	dumpVersion, err := versiongate.ParseDumpVersionFromArchive(restoreTool, backupPath)
	if err != nil {
		return nil
	}
	result := versiongate.Check(a.engineName, dumpVersion, toolVersion)
	if !result.Compatible {
		return result.Error
	}
	if result.Warning != "" && a.log != nil {
		a.log.WithField("container", backupPath).WithField("warning", result.Warning).Warn("restoring dump with version caveat")
	}
	return nil
}

func guessEngineFromTag(tag backupformat.Tag) string {
	switch tag {
	case backupformat.TagMySQLSQL:
		return "mysql"
	case backupformat.TagPostgreSQLSQL, backupformat.TagPostgreSQLCustom:
		return "postgresql"
	default:
		return "unknown"
	}
}

func (a *Adapter) DetectBackupFormat(ctx context.Context, path string) (backupformat.Descriptor, error) {
	return backupformat.Detect(path, backupformat.FamilyPostgres)
}

// DumpFromConnectionString implements CockroachDB's remote-dump path:
// enumerate tables, fetch their CREATE statement, and stream rows as
// INSERTs built from string-literal-escaped values.
func (a *Adapter) DumpFromConnectionString(ctx context.Context, connStr, outPath string) (engine.DumpResult, error) {
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return engine.DumpResult{}, apperrors.ConnectionFailed(connStr, err)
	}
	defer db.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return engine.DumpResult{}, err
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	defer w.Flush()

	var tables []string
	if err := db.SelectContext(ctx, &tables,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`); err != nil {
		return engine.DumpResult{}, fmt.Errorf("enumerate tables: %w", err)
	}

	var warnings []string
	for _, table := range tables {
		if err := engine.ValidateIdentifier("table", table); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped table %q: %v", table, err))
			continue
		}

		var createStmt string
		row := db.QueryRowxContext(ctx, fmt.Sprintf("SHOW CREATE TABLE %s", engine.QuotePostgres(table)))
		var ignoredName string
		if err := row.Scan(&ignoredName, &createStmt); err == nil {
			fmt.Fprintf(w, "%s;\n", createStmt)
		}

		rows, err := db.QueryxContext(ctx, fmt.Sprintf("SELECT * FROM %s", engine.QuotePostgres(table)))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("dump table %q: %v", table, err))
			continue
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			continue
		}
		for rows.Next() {
			values, err := rows.SliceScan()
			if err != nil {
				continue
			}
			literals := make([]string, len(values))
			for i, v := range values {
				if v == nil {
					literals[i] = "NULL"
					continue
				}
				literals[i] = engine.EscapeSQLValue(stringifyCell(v), true)
			}
			fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
				engine.QuotePostgres(table), strings.Join(cols, ", "), strings.Join(literals, ", "))
		}
		rows.Close()
	}

	return engine.DumpResult{Path: outPath, Warnings: warnings}, nil
}

func (a *Adapter) CreateUser(ctx context.Context, c engine.ContainerRef, in engine.CreateUserInput) (engine.Credentials, error) {
	if err := engine.ValidateIdentifier("user", in.Username); err != nil {
		return engine.Credentials{}, err
	}
	db, err := a.open(c, "")
	if err != nil {
		return engine.Credentials{}, err
	}
	defer db.Close()

	stmt := fmt.Sprintf("CREATE USER %s WITH PASSWORD %s", engine.QuotePostgres(in.Username), engine.EscapeSQLValue(in.Password, true))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return engine.Credentials{}, err
	}
	if in.Database != "" {
		grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", engine.QuotePostgres(in.Database), engine.QuotePostgres(in.Username))
		if _, err := db.ExecContext(ctx, grant); err != nil {
			return engine.Credentials{}, err
		}
	}
	return engine.Credentials{Username: in.Username, Password: in.Password}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context, c engine.ContainerRef) ([]string, error) {
	db, err := a.open(c, "")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var names []string
	err = db.SelectContext(ctx, &names, "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname")
	return names, err
}
