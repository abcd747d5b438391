// Package redis implements the key-value family adapter (Redis and
// Valkey). Readiness, database introspection, and the Valkey
// remote-dump path go through github.com/go-redis/redis/v8; RDB/text
// backup and restore still shell out to the engine's own CLI since a
// library client gives no raw byte-for-byte pipe to a file.
package redis

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/dbforge/dbforge/internal/apperrors"
	"github.com/dbforge/dbforge/internal/backupformat"
	"github.com/dbforge/dbforge/internal/binaryregistry"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/logger"
)

// maxKeysBeforeWarning is the threshold above which the KEYS *
// enumeration a remote dump performs adds a blocking-behavior warning
// to the dump result's Warnings.
const maxKeysBeforeWarning = 10000

// NumDatabases is the fixed count of numbered logical databases every
// Redis/Valkey server exposes.
const NumDatabases = 16

// Adapter implements engine.Adapter for redis and valkey.
type Adapter struct {
	engineName string
	binaries   *binaryregistry.Registry
	tools      *toolregistry.Registry
	supervisor *supervisor.Supervisor
	log        *logger.Logger
}

// New builds an Adapter for engineName ("redis" or "valkey").
func New(engineName string, binaries *binaryregistry.Registry, tools *toolregistry.Registry, sup *supervisor.Supervisor, log *logger.Logger) *Adapter {
	return &Adapter{engineName: engineName, binaries: binaries, tools: tools, supervisor: sup, log: log}
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc, _ := engine.Lookup(a.engineName)
	return desc
}

func (a *Adapter) serverTool() string { return a.Descriptor().RequiredTools[0] }
func (a *Adapter) cliTool() string    { return a.Descriptor().RequiredTools[1] }

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

// InitDataDir for the key-value family is a config-generation step,
// not an init-utility invocation: Redis/Valkey need no format-and-
// bootstrap pass over an empty data directory.
func (a *Adapter) InitDataDir(ctx context.Context, c engine.ContainerRef, version string, opts map[string]string) (string, error) {
	dataDir := c.ContainerDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := writeConfigFile(c.ContainerConfFile(), c.ContainerPort(), dataDir); err != nil {
		return "", fmt.Errorf("write config file: %w", err)
	}
	return dataDir, nil
}

// writeConfigFile generates a minimal config. daemonize is "yes" on
// POSIX and "no" on Windows, since the supervisor always performs the
// detached spawn itself on Windows rather than relying on the
// engine's own daemonization.
func writeConfigFile(path string, port int, dataDir string) error {
	daemonize := "yes"
	if runtime.GOOS == "windows" {
		daemonize = "no"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "port %d\n", port)
	fmt.Fprintf(&b, "dir %s\n", dataDir)
	fmt.Fprintf(&b, "daemonize %s\n", daemonize)
	b.WriteString("bind 127.0.0.1\n")
	b.WriteString("protected-mode no\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func (a *Adapter) Start(ctx context.Context, c engine.ContainerRef, progress engine.Progress) (engine.StartResult, error) {
	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c, 0)}, nil
	}

	cmd := exec.Command(a.toolPath(c, a.serverTool()), c.ContainerConfFile(), "--pidfile", c.ContainerPidFile())

	if progress != nil {
		progress(0.2, "spawning")
	}
	// daemonize yes means the engine forks and writes its own PID file
	// on POSIX; on Windows the supervisor retains the foreground PID.
	writesOwnPID := runtime.GOOS != "windows"
	if _, err := a.supervisor.Spawn(cmd, c.ContainerPidFile(), c.ContainerLogFile(), writesOwnPID); err != nil {
		return engine.StartResult{}, fmt.Errorf("spawn %s: %w", a.engineName, err)
	}

	if progress != nil {
		progress(0.6, "waiting for readiness")
	}
	ready := a.supervisor.WaitReady(ctx, 30*time.Second, func() bool {
		return a.ping(ctx, c)
	})
	if !ready {
		_ = a.supervisor.Stop(ctx, c.ContainerPidFile(), nil)
		return engine.StartResult{}, fmt.Errorf("%s did not become ready within timeout", a.engineName)
	}

	if progress != nil {
		progress(1.0, "ready")
	}
	return engine.StartResult{Port: c.ContainerPort(), URL: a.connectionURL(c, 0)}, nil
}

func (a *Adapter) client(c engine.ContainerRef, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr: fmt.Sprintf("127.0.0.1:%d", c.ContainerPort()),
		DB:   db,
	})
}

func (a *Adapter) ping(ctx context.Context, c engine.ContainerRef) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cl := a.client(c, 0)
	defer cl.Close()
	result, err := cl.Ping(pingCtx).Result()
	return err == nil && result == "PONG"
}

func (a *Adapter) Stop(ctx context.Context, c engine.ContainerRef) error {
	graceful := func(ctx context.Context) error {
		cl := a.client(c, 0)
		defer cl.Close()
		return cl.Shutdown(ctx).Err()
	}
	return a.supervisor.Stop(ctx, c.ContainerPidFile(), graceful)
}

func (a *Adapter) Status(ctx context.Context, c engine.ContainerRef) (engine.StatusResult, error) {
	s := a.supervisor.Status(c.ContainerPidFile())
	return engine.StatusResult{Running: s.Running, Message: s.Message}, nil
}

func (a *Adapter) connectionURL(c engine.ContainerRef, db int) string {
	return fmt.Sprintf("%s://127.0.0.1:%d/%d", a.Descriptor().URLScheme, c.ContainerPort(), db)
}

func (a *Adapter) Connect(ctx context.Context, c engine.ContainerRef, database string) error {
	if !a.ping(ctx, c) {
		return apperrors.ConnectionFailed(a.connectionURL(c, 0), fmt.Errorf("PING did not return PONG"))
	}
	return nil
}

// databaseIndex parses a database name as a numbered logical database
// (0..15), the only addressing scheme the key-value family has.
func databaseIndex(name string) (int, error) {
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n >= NumDatabases {
		return 0, apperrors.InvalidIdentifier("database", name)
	}
	return n, nil
}

// CreateDatabase is a no-op: every numbered database 0..15 always
// exists.
func (a *Adapter) CreateDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	_, err := databaseIndex(name)
	return err
}

// DropDatabase is FLUSHDB against the named numbered database.
func (a *Adapter) DropDatabase(ctx context.Context, c engine.ContainerRef, name string) error {
	db, err := databaseIndex(name)
	if err != nil {
		return err
	}
	cl := a.client(c, db)
	defer cl.Close()
	return cl.FlushDB(ctx).Err()
}

// GetDatabaseSize reports server-wide used_memory from INFO, not a
// per-database figure: Redis/Valkey have no cheap per-database size
// query.
func (a *Adapter) GetDatabaseSize(ctx context.Context, c engine.ContainerRef) (int64, bool) {
	cl := a.client(c, 0)
	defer cl.Close()
	info, err := cl.Info(ctx, "memory").Result()
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(info, "\r\n") {
		if strings.HasPrefix(line, "used_memory:") {
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "used_memory:"), 10, 64)
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}

// ExecuteQuery is unsupported: the key-value family has no relational
// query surface. Use the redis-cli subprocess through RunScript for
// ad-hoc commands instead.
func (a *Adapter) ExecuteQuery(ctx context.Context, c engine.ContainerRef, query string, opts engine.ExecuteQueryOptions) (engine.QueryResult, error) {
	return engine.QueryResult{}, apperrors.UnsupportedOp(a.engineName, "executeQuery")
}

func (a *Adapter) RunScript(ctx context.Context, c engine.ContainerRef, in engine.RunScriptInput) error {
	args := []string{"-h", "127.0.0.1", "-p", strconv.Itoa(c.ContainerPort())}
	cmd := exec.CommandContext(ctx, a.toolPath(c, a.cliTool()), args...)
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

// Backup copies the RDB file directly: the engine must be stopped
// first so the file on disk is quiescent. When opts.Format is "text"
// it instead emits a line-oriented command dump via the remote-dump
// path so a running engine can still be backed up.
func (a *Adapter) Backup(ctx context.Context, c engine.ContainerRef, outPath string, opts engine.BackupOptions) (engine.BackupResult, error) {
	if opts.Format == "text" {
		return a.textBackup(ctx, c, outPath)
	}

	if a.supervisor.IsRunning(c.ContainerPidFile()) {
		return engine.BackupResult{}, fmt.Errorf("%s must be stopped before an RDB backup can be taken", a.engineName)
	}
	rdbPath := filepath.Join(c.ContainerDataDir(), "dump.rdb")
	data, err := os.ReadFile(rdbPath)
	if err != nil {
		return engine.BackupResult{}, fmt.Errorf("read rdb file: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return engine.BackupResult{}, fmt.Errorf("write backup: %w", err)
	}
	return engine.BackupResult{Path: outPath, Format: "rdb", Size: int64(len(data))}, nil
}

func (a *Adapter) textBackup(ctx context.Context, c engine.ContainerRef, outPath string) (engine.BackupResult, error) {
	dump, err := a.DumpFromConnectionString(ctx, a.connectionURL(c, 0), outPath)
	if err != nil {
		return engine.BackupResult{}, err
	}
	info, statErr := os.Stat(outPath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	return engine.BackupResult{Path: dump.Path, Format: "text", Size: size}, nil
}

// Restore loads an RDB file by placing it in the data directory while
// the engine is stopped, or streams a text command dump to the CLI
// while the engine runs. Any file not detected as RDB takes the text
// path.
func (a *Adapter) Restore(ctx context.Context, c engine.ContainerRef, backupPath string, opts engine.RestoreOptions) (engine.RestoreResult, error) {
	desc, err := backupformat.Detect(backupPath, backupformat.FamilyKeyValue)
	if err != nil {
		return engine.RestoreResult{}, err
	}
	if err := backupformat.AssertCompatibleFormat(desc, a.engineName, guessEngineFromTag(desc.Tag)); err != nil {
		return engine.RestoreResult{}, err
	}

	if desc.Tag == backupformat.TagRDB {
		if a.supervisor.IsRunning(c.ContainerPidFile()) {
			return engine.RestoreResult{}, fmt.Errorf("%s must be stopped before an RDB file can be restored", a.engineName)
		}
		data, err := os.ReadFile(backupPath)
		if err != nil {
			return engine.RestoreResult{}, fmt.Errorf("read backup: %w", err)
		}
		rdbPath := filepath.Join(c.ContainerDataDir(), "dump.rdb")
		if err := os.WriteFile(rdbPath, data, 0o644); err != nil {
			return engine.RestoreResult{}, fmt.Errorf("install rdb: %w", err)
		}
		return engine.RestoreResult{Format: "rdb"}, nil
	}

	if err := a.RunScript(ctx, c, engine.RunScriptInput{File: backupPath}); err != nil {
		return engine.RestoreResult{}, err
	}
	return engine.RestoreResult{Format: "text"}, nil
}

func guessEngineFromTag(tag backupformat.Tag) string {
	switch tag {
	case backupformat.TagRDB, backupformat.TagText:
		return "redis"
	default:
		return "unknown"
	}
}

func (a *Adapter) DetectBackupFormat(ctx context.Context, path string) (backupformat.Descriptor, error) {
	return backupformat.Detect(path, backupformat.FamilyKeyValue)
}

// escapeCommandValue renders a value inside a generated text command
// using the key-value family's own escape scheme, distinct from
// engine.EscapeSQLValue's relational one.
func escapeCommandValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(v) + `"`
}

// DumpFromConnectionString performs the Valkey remote-dump path:
// connect, enumerate every key with KEYS *, and for each one emit a
// typed re-creation command plus an EXPIRE when a TTL is set. KEYS *
// is O(N) and blocks the server for its duration, so enumerations
// above maxKeysBeforeWarning are flagged in the result's Warnings.
func (a *Adapter) DumpFromConnectionString(ctx context.Context, connStr, outPath string) (engine.DumpResult, error) {
	opts, err := goredis.ParseURL(normalizeConnString(connStr))
	if err != nil {
		return engine.DumpResult{}, fmt.Errorf("parse connection string: %w", err)
	}
	cl := goredis.NewClient(opts)
	defer cl.Close()

	if err := cl.Ping(ctx).Err(); err != nil {
		return engine.DumpResult{}, apperrors.ConnectionFailed(connStr, err)
	}

	keys, err := cl.Keys(ctx, "*").Result()
	if err != nil {
		return engine.DumpResult{}, fmt.Errorf("enumerate keys: %w", err)
	}

	var warnings []string
	if len(keys) > maxKeysBeforeWarning {
		warnings = append(warnings, fmt.Sprintf("KEYS * enumerated %d keys; this blocks the server for the duration of the scan", len(keys)))
	}

	f, err := os.Create(outPath)
	if err != nil {
		return engine.DumpResult{}, fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	for _, key := range keys {
		if err := writeKeyCommands(ctx, cl, w, key); err != nil {
			return engine.DumpResult{}, fmt.Errorf("dump key %q: %w", key, err)
		}
	}

	return engine.DumpResult{Path: outPath, Warnings: warnings}, nil
}

func writeKeyCommands(ctx context.Context, cl *goredis.Client, w *bufio.Writer, key string) error {
	typ, err := cl.Type(ctx, key).Result()
	if err != nil {
		return err
	}

	switch typ {
	case "string":
		val, err := cl.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "SET %s %s\n", escapeCommandValue(key), escapeCommandValue(val))
	case "hash":
		fields, err := cl.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		for field, val := range fields {
			fmt.Fprintf(w, "HSET %s %s %s\n", escapeCommandValue(key), escapeCommandValue(field), escapeCommandValue(val))
		}
	case "list":
		vals, err := cl.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		for _, val := range vals {
			fmt.Fprintf(w, "RPUSH %s %s\n", escapeCommandValue(key), escapeCommandValue(val))
		}
	case "set":
		vals, err := cl.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		for _, val := range vals {
			fmt.Fprintf(w, "SADD %s %s\n", escapeCommandValue(key), escapeCommandValue(val))
		}
	case "zset":
		vals, err := cl.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		for _, z := range vals {
			fmt.Fprintf(w, "ZADD %s %s %s\n", escapeCommandValue(key), formatScore(z.Score), escapeCommandValue(fmt.Sprintf("%v", z.Member)))
		}
	default:
		return nil
	}

	ttl, err := cl.TTL(ctx, key).Result()
	if err == nil && ttl > 0 {
		fmt.Fprintf(w, "EXPIRE %s %d\n", escapeCommandValue(key), int64(ttl.Seconds()))
	}
	return nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// normalizeConnString maps the valkey/valkeys schemes go-redis.ParseURL
// doesn't recognize onto its redis/rediss equivalents; TLS semantics
// are identical.
func normalizeConnString(connStr string) string {
	switch {
	case strings.HasPrefix(connStr, "valkeys://"):
		return "rediss://" + strings.TrimPrefix(connStr, "valkeys://")
	case strings.HasPrefix(connStr, "valkey://"):
		return "redis://" + strings.TrimPrefix(connStr, "valkey://")
	default:
		return connStr
	}
}

// CreateUser is unsupported: ACL users are outside this adapter's
// scope, which targets single-node local instances with the default
// superuser only.
func (a *Adapter) CreateUser(ctx context.Context, c engine.ContainerRef, in engine.CreateUserInput) (engine.Credentials, error) {
	return engine.Credentials{}, apperrors.UnsupportedOp(a.engineName, "createUser")
}

// ListDatabases returns the fixed numbered-database names 0..15.
func (a *Adapter) ListDatabases(ctx context.Context, c engine.ContainerRef) ([]string, error) {
	names := make([]string, NumDatabases)
	for i := 0; i < NumDatabases; i++ {
		names[i] = strconv.Itoa(i)
	}
	return names, nil
}
