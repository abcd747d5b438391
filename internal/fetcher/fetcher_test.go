package fetcher

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/logger"
	"github.com/stretchr/testify/require"
)

func buildRedisArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	ext := platform.ExecutableExtension()
	for _, tool := range []string{"redis-server", "redis-cli"} {
		content := []byte("#!/bin/sh\necho fake\n")
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "bin/" + tool + ext,
			Mode: 0o755,
			Size: int64(len(content)),
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchDownloadsExtractsAndRegistersTools(t *testing.T) {
	archive := buildRedisArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	root := t.TempDir()
	p := paths.New(root)
	tools := toolregistry.New(p.ConfigFile(), logger.NewDefault("test"))

	svc := New(Config{Host: srv.URL, DownloadTimeout: 5 * time.Second, MaxRetries: 1}, tools, p, logger.NewDefault("test"))

	info := platform.GetPlatformInfo()
	dir, err := svc.Fetch(context.Background(), "redis", "7.2.4", info.OS, info.Arch, nil)
	require.NoError(t, err)
	require.Equal(t, p.BinaryRoot("redis", "7.2.4", info.OS, info.Arch), dir)

	cliPath := filepath.Join(dir, "bin", "redis-cli"+platform.ExecutableExtension())
	_, statErr := os.Stat(cliPath)
	require.NoError(t, statErr)
	require.Equal(t, cliPath, tools.GetPath("redis-cli"))
}

func TestFetchIsIdempotentWhenAlreadyInstalled(t *testing.T) {
	root := t.TempDir()
	p := paths.New(root)
	info := platform.GetPlatformInfo()
	dir := filepath.Join(p.BinaryRoot("redis", "7.2.4", info.OS, info.Arch), "bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis-server"+platform.ExecutableExtension()), []byte("x"), 0o755))

	svc := New(Config{Host: "http://unused.invalid"}, nil, p, nil)
	result, err := svc.Fetch(context.Background(), "redis", "7.2.4", info.OS, info.Arch, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Dir(dir), result)
}

func buildRedisZipArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ext := platform.ExecutableExtension()
	for _, tool := range []string{"redis-server", "redis-cli"} {
		content := []byte("echo fake\r\n")
		w, err := zw.Create("bin/" + tool + ext)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestArtifactURLUsesZipExtensionOnWindows(t *testing.T) {
	svc := New(Config{Host: "http://registry.invalid"}, nil, paths.New(t.TempDir()), nil)
	u, err := svc.artifactURL("redis", "7.2.4", "win32", "x64")
	require.NoError(t, err)
	require.Contains(t, u, ".zip")

	u, err = svc.artifactURL("redis", "7.2.4", "linux", "x64")
	require.NoError(t, err)
	require.Contains(t, u, ".tar.gz")
}

func TestFetchExtractsZipArchiveOnWindows(t *testing.T) {
	archive := buildRedisZipArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	root := t.TempDir()
	p := paths.New(root)
	tools := toolregistry.New(p.ConfigFile(), logger.NewDefault("test"))
	svc := New(Config{Host: srv.URL, DownloadTimeout: 5 * time.Second, MaxRetries: 1}, tools, p, logger.NewDefault("test"))

	dir, err := svc.Fetch(context.Background(), "redis", "7.2.4", "win32", "x64", nil)
	require.NoError(t, err)

	cliPath := filepath.Join(dir, "bin", "redis-cli"+platform.ExecutableExtension())
	_, statErr := os.Stat(cliPath)
	require.NoError(t, statErr)
}

func TestFetchFailsOnMissingExpectedBinary(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("x")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/redis-server" + platform.ExecutableExtension(), Mode: 0o755, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	root := t.TempDir()
	p := paths.New(root)
	svc := New(Config{Host: srv.URL, DownloadTimeout: 5 * time.Second, MaxRetries: 1}, nil, p, nil)

	info := platform.GetPlatformInfo()
	_, err = svc.Fetch(context.Background(), "redis", "7.2.4", info.OS, info.Arch, nil)
	require.Error(t, err)
}
