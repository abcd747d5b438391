package backupformat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectBytesPostgresCustom(t *testing.T) {
	header := append([]byte("PGDMP"), make([]byte, 300)...)
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagCustom, d.Tag)
}

func TestDetectBytesForeignPostgresCustomWhenReadByMySQL(t *testing.T) {
	header := append([]byte("PGDMP"), make([]byte, 300)...)
	d := DetectBytes(header, FamilyMySQL)
	require.Equal(t, TagPostgreSQLCustom, d.Tag)
}

func TestDetectBytesTar(t *testing.T) {
	header := make([]byte, 263)
	copy(header[257:262], []byte("ustar"))
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagTar, d.Tag)
}

func TestDetectBytesGzip(t *testing.T) {
	header := []byte{0x1f, 0x8b, 0x08, 0x00}
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagCompressed, d.Tag)
}

func TestDetectBytesMySQLDumpForeignWhenReadByPostgres(t *testing.T) {
	header := []byte("-- MySQL dump 10.13  Distrib 8.0.36\n\nSET NAMES utf8;\n")
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagMySQLSQL, d.Tag)
}

func TestDetectBytesMySQLDumpNativeWhenReadByMySQL(t *testing.T) {
	header := []byte("-- MySQL dump 10.13  Distrib 8.0.36\n\nSET NAMES utf8;\n")
	d := DetectBytes(header, FamilyMySQL)
	require.Equal(t, TagSQL, d.Tag)
}

func TestDetectBytesPlainSQL(t *testing.T) {
	header := []byte("CREATE TABLE foo (id int);\n")
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagSQL, d.Tag)
}

func TestDetectBytesRedisRDB(t *testing.T) {
	header := []byte("REDIS0011" + string(make([]byte, 20)))
	d := DetectBytes(header, FamilyKeyValue)
	require.Equal(t, TagRDB, d.Tag)
}

func TestDetectBytesUnknown(t *testing.T) {
	header := []byte{0x01, 0x02, 0x03}
	d := DetectBytes(header, FamilyPostgres)
	require.Equal(t, TagUnknown, d.Tag)
}

func TestDetectIsStableAcrossRepeatedReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- PostgreSQL database dump\n\nCREATE TABLE x (id int);\n"), 0o644))

	first, err := Detect(path, FamilyMySQL)
	require.NoError(t, err)
	second, err := Detect(path, FamilyMySQL)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, TagPostgreSQLSQL, first.Tag)
}

func TestAssertCompatibleFormatRejectsCrossEngine(t *testing.T) {
	d := Descriptor{Tag: TagMySQLSQL}
	err := AssertCompatibleFormat(d, "postgresql", "mysql")
	require.Error(t, err)
}

func TestAssertCompatibleFormatAllowsNative(t *testing.T) {
	d := Descriptor{Tag: TagSQL}
	require.NoError(t, AssertCompatibleFormat(d, "postgresql", "postgresql"))
}
