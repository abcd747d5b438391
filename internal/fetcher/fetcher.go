// Package fetcher downloads an engine binary archive for a given
// (engine, version, platform) tuple, verifies it, and installs it
// atomically under the binary root.
package fetcher

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/internal/resilience"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/logger"
	"github.com/dbforge/dbforge/pkg/version"
)

// Progress reports download/extract progress as a 0.0-1.0 fraction.
type Progress func(fraction float64, message string)

// Config controls the artifact registry endpoint and retry behavior.
type Config struct {
	Host            string
	DownloadTimeout time.Duration
	MaxRetries      int
}

// Service is the Fetcher: downloads, verifies, and installs binary
// archives, registering their client tools in a Registry.
type Service struct {
	cfg     Config
	client  *http.Client
	tools   *toolregistry.Registry
	paths   *paths.Service
	log     *logger.Logger
	limiter *rate.Limiter
}

// New builds a Service. limiter throttles progress-callback frequency
// during a download (progress is reported via callbacks; without
// throttling, a fast local/mocked transfer could invoke the callback
// thousands of times per second).
func New(cfg Config, tools *toolregistry.Registry, p *paths.Service, log *logger.Logger) *Service {
	return &Service{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.DownloadTimeout},
		tools:   tools,
		paths:   p,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// archiveExt returns the artifact extension for osName ("win32" or
// "darwin"/"linux", platform.Info's vocabulary): Windows archives ship
// as .zip, every other platform as .tar.gz.
func archiveExt(osName string) string {
	if osName == "win32" {
		return "zip"
	}
	return "tar.gz"
}

// artifactURL builds the download URL for an engine/version/platform
// tuple from the configured registry host, per-family path template.
func (s *Service) artifactURL(engineName, version, osName, arch string) (string, error) {
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return "", fmt.Errorf("unknown engine %q", engineName)
	}
	base, err := url.Parse(s.cfg.Host)
	if err != nil {
		return "", fmt.Errorf("invalid registry host %q: %w", s.cfg.Host, err)
	}
	base.Path = fmt.Sprintf("/%s/%s/%s-%s-%s-%s.%s", desc.Family, engineName, engineName, version, osName, arch, archiveExt(osName))
	return base.String(), nil
}

// Fetch implements the Fetcher's full pipeline for an exact version:
// download to a temp file, verify, extract to staging, atomically
// install, register bundled tools. Idempotent — if the target
// directory already has the primary tool, it returns immediately.
func (s *Service) Fetch(ctx context.Context, engineName, version, osName, arch string, progress Progress) (string, error) {
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return "", fmt.Errorf("unknown engine %q", engineName)
	}
	if err := platform.RequireSupportedPlatform(platform.Info{OS: osName, Arch: arch}); err != nil {
		return "", err
	}

	finalDir := s.paths.BinaryRoot(engineName, version, osName, arch)
	primary := filepath.Join(finalDir, "bin", desc.RequiredTools[0]+platform.ExecutableExtension())
	if _, err := os.Stat(primary); err == nil {
		return finalDir, nil
	}

	artifactURL, err := s.artifactURL(engineName, version, osName, arch)
	if err != nil {
		return "", err
	}

	tmpArchive, err := os.CreateTemp("", "dbforge-fetch-*."+archiveExt(osName))
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}
	tmpArchivePath := tmpArchive.Name()
	defer os.Remove(tmpArchivePath)

	retryCfg := resilience.DefaultRetryConfig()
	if s.cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = s.cfg.MaxRetries
	}

	err = resilience.Retry(ctx, retryCfg, func() error {
		if _, err := tmpArchive.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tmpArchive.Truncate(0); err != nil {
			return err
		}
		return s.download(ctx, artifactURL, tmpArchive, progress)
	})
	tmpArchive.Close()
	if err != nil {
		return "", fmt.Errorf("download %s: %w", artifactURL, err)
	}

	if progress != nil {
		progress(0.6, "verifying archive")
	}
	checksum, err := checksumFile(tmpArchivePath)
	if err != nil {
		return "", fmt.Errorf("checksum archive: %w", err)
	}
	if s.log != nil {
		s.log.WithField("engine", engineName).WithField("version", version).WithField("sha256", checksum).
			Debug("downloaded artifact")
	}

	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return "", fmt.Errorf("create binary root: %w", err)
	}
	stagingDir, err := os.MkdirTemp(filepath.Dir(finalDir), ".staging-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	if progress != nil {
		progress(0.7, "extracting archive")
	}
	extract := extractTarGz
	if osName == "win32" {
		extract = extractZip
	}
	if err := extract(tmpArchivePath, stagingDir); err != nil {
		return "", fmt.Errorf("extract archive: %w", err)
	}

	for _, tool := range desc.RequiredTools {
		toolPath := filepath.Join(stagingDir, "bin", tool+platform.ExecutableExtension())
		if _, err := os.Stat(toolPath); err != nil {
			return "", fmt.Errorf("archive missing expected binary %q: %w", tool, err)
		}
	}

	if err := os.RemoveAll(finalDir); err != nil {
		return "", fmt.Errorf("clear existing install: %w", err)
	}
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return "", fmt.Errorf("install %s: %w", finalDir, err)
	}

	if s.tools != nil {
		for _, tool := range desc.RequiredTools {
			toolPath := filepath.Join(finalDir, "bin", tool+platform.ExecutableExtension())
			s.tools.SetPath(tool, toolPath, toolregistry.ProvenanceBundled)
		}
	}

	if progress != nil {
		progress(1.0, "installed")
	}
	return finalDir, nil
}

// FetchLatestForMajor satisfies internal/binaryregistry.Fetcher: it
// resolves the supported full version for major via the engine's
// version map, then fetches it.
func (s *Service) FetchLatestForMajor(ctx context.Context, engineName, major, osName, arch string, progress func(float64, string)) (string, error) {
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return "", fmt.Errorf("unknown engine %q", engineName)
	}
	full, ok := desc.VersionMap[major]
	if !ok {
		return "", fmt.Errorf("unsupported %s major version %q", engineName, major)
	}
	if _, err := s.Fetch(ctx, engineName, full, osName, arch, Progress(progress)); err != nil {
		return "", err
	}
	return full, nil
}

func (s *Service) download(ctx context.Context, artifactURL string, dst io.Writer, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, artifactURL)
	}

	total := resp.ContentLength
	var read int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			read += int64(n)
			if progress != nil && total > 0 && s.limiter.Allow() {
				progress(0.6*float64(read)/float64(total), "downloading")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !withinDir(destDir, target) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("not a zip archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.Clean(f.Name))
		if !withinDir(destDir, target) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasPrefix(rel, ".."+string(filepath.Separator))
}

func filepathHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
