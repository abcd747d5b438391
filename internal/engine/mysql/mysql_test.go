package mysql

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dbforge/dbforge/internal/backupformat"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/stretchr/testify/require"
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

func TestDescriptorForMySQLAndMariaDB(t *testing.T) {
	my := New("mysql", nil, nil, nil, nil)
	require.Equal(t, "mysql", my.Descriptor().Name)

	maria := New("mariadb", nil, nil, nil, nil)
	require.Equal(t, "mariadb", maria.Descriptor().Name)
}

func TestToolAccessorsFollowRequiredToolsOrder(t *testing.T) {
	my := New("mysql", nil, nil, nil, nil)
	require.Equal(t, "mysql", my.clientTool())
	require.Equal(t, "mysqld", my.daemonTool())
	require.Equal(t, "mysqladmin", my.adminTool())
	require.Equal(t, "mysqldump", my.dumpTool())
	require.Equal(t, "mysql_install_db", my.installTool())

	maria := New("mariadb", nil, nil, nil, nil)
	require.Equal(t, "mariadb", maria.clientTool())
	require.Equal(t, "mariadb-install-db", maria.installTool())
}

func TestConnectionURLUsesEngineScheme(t *testing.T) {
	a := New("mysql", nil, nil, nil, nil)
	c := fakeContainer{port: 3306, primaryDB: "mydb"}
	require.Equal(t, "mysql://root@127.0.0.1:3306/mydb", a.connectionURL(c, "mydb"))
}

func TestParseTabularSplitsHeaderAndRows(t *testing.T) {
	out := []byte("id\tname\n1\talice\n2\tbob\n")
	result := parseTabular(out)
	require.Equal(t, []string{"id", "name"}, result.Columns)
	require.Equal(t, [][]string{{"1", "alice"}, {"2", "bob"}}, result.Rows)
}

func TestParseTabularEmptyOutput(t *testing.T) {
	result := parseTabular([]byte(""))
	require.Nil(t, result.Columns)
}

func TestRow1118PatternMatchesRowTooLarge(t *testing.T) {
	require.True(t, row1118Pattern.MatchString("ERROR 1118 (42000): Row size too large"))
	require.True(t, row1118Pattern.MatchString("something: Row size too large. The maximum row size..."))
	require.False(t, row1118Pattern.MatchString("ERROR 1045: Access denied"))
}

func TestIsEPIPEDetectsBrokenPipe(t *testing.T) {
	require.True(t, isEPIPE(brokenPipeErr{}))
	require.False(t, isEPIPE(otherErr{}))
}

type brokenPipeErr struct{}

func (brokenPipeErr) Error() string { return "write: broken pipe" }

type otherErr struct{}

func (otherErr) Error() string { return "exit status 1" }

func TestGuessEngineFromTag(t *testing.T) {
	require.Equal(t, "mysql", guessEngineFromTag(backupformat.TagMySQLSQL))
	require.Equal(t, "postgresql", guessEngineFromTag(backupformat.TagPostgreSQLSQL))
	require.Equal(t, "unknown", guessEngineFromTag(backupformat.TagRDB))
}

func TestRestoreRejectsForeignDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- PostgreSQL database dump\n"), 0o644))

	a := New("mysql", nil, nil, nil, nil)
	_, err := a.Restore(context.Background(), fakeContainer{primaryDB: "mydb"}, path, engine.RestoreOptions{})
	require.Error(t, err)
}

func TestDumpFromConnectionStringIsUnsupported(t *testing.T) {
	a := New("mysql", nil, nil, nil, nil)
	_, err := a.DumpFromConnectionString(context.Background(), "whatever", "/tmp/out.sql")
	require.Error(t, err)
}

func TestWriteConfigFileIncludesPortAndDataDir(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "my.cnf")
	require.NoError(t, writeConfigFile(confPath, 3307, dir, nil))

	data, err := os.ReadFile(confPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "port=3307")
	require.Contains(t, string(data), "datadir="+dir)
}

func TestWriteConfigFileIncludesRowFormatWhenSet(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "my.cnf")
	require.NoError(t, writeConfigFile(confPath, 3306, dir, map[string]string{"innodb_default_row_format": "DYNAMIC"}))

	data, err := os.ReadFile(confPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "innodb_default_row_format=DYNAMIC")
}
