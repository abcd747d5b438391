// Package paths computes the deterministic filesystem locations
// dbforge uses for binaries, containers, and their data. Every
// function here except FindInstalledBinaryForMajor, which reads the
// bin directory, is pure: no filesystem access, no mutation.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dbforge/dbforge/internal/platform"
)

// Service resolves paths relative to a root directory (normally
// config.PathsConfig.Root).
type Service struct {
	Root string
}

// New returns a Service rooted at root.
func New(root string) *Service {
	return &Service{Root: root}
}

// ConfigFile is the Tool Registry's persisted JSON document.
func (s *Service) ConfigFile() string {
	return filepath.Join(s.Root, "config.json")
}

// BinaryRoot is the install directory for one engine/version/platform
// binary installation.
func (s *Service) BinaryRoot(engine, version, os, arch string) string {
	return filepath.Join(s.Root, "bin", fmt.Sprintf("%s-%s-%s-%s", engine, version, os, arch))
}

// BinaryPath is the absolute path of tool inside a binary installation.
func (s *Service) BinaryPath(engine, version, osName, arch, tool string) string {
	return filepath.Join(s.BinaryRoot(engine, version, osName, arch), "bin", tool+platform.ExecutableExtension())
}

// ContainerRoot is the directory holding one container's state.
func (s *Service) ContainerRoot(engine, name string) string {
	return filepath.Join(s.Root, "containers", engine, name)
}

// ManifestFile is a container's JSON manifest path.
func (s *Service) ManifestFile(engine, name string) string {
	return filepath.Join(s.ContainerRoot(engine, name), "container.json")
}

// DataDir is a container's engine data directory.
func (s *Service) DataDir(engine, name string) string {
	return filepath.Join(s.ContainerRoot(engine, name), "data")
}

// LogFile is a container's engine log file.
func (s *Service) LogFile(engine, name, logFileName string) string {
	return filepath.Join(s.ContainerRoot(engine, name), logFileName)
}

// PidFile is a container's PID file.
func (s *Service) PidFile(engine, name, pidFileName string) string {
	return filepath.Join(s.ContainerRoot(engine, name), pidFileName)
}

// ConfigFilePath is a container's engine-specific configuration file
// (only engines that need one, e.g. redis.conf, postgresql.conf).
func (s *Service) ConfigFilePath(engine, name, confFileName string) string {
	return filepath.Join(s.ContainerRoot(engine, name), confFileName)
}

// EnginesRoot is the directory under which all installations for engine
// live, used to scan for same-major fallbacks.
func (s *Service) EnginesRoot(engine string) string {
	return filepath.Join(s.Root, "bin")
}

// FindInstalledBinaryForMajor scans the binary root for any installed
// full version of engine whose major version component equals major,
// for the given platform tuple. It returns the full version string and
// true if found. Used by the Binary Registry's self-healing algorithm.
func (s *Service) FindInstalledBinaryForMajor(engine, major, osName, arch string) (string, bool) {
	binDir := filepath.Join(s.Root, "bin")
	entries, err := os.ReadDir(binDir)
	if err != nil {
		return "", false
	}

	prefix := engine + "-"
	suffix := fmt.Sprintf("-%s-%s", osName, arch)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		version := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		if versionMajor(version) == major {
			return version, true
		}
	}
	return "", false
}

func versionMajor(v string) string {
	if idx := strings.Index(v, "."); idx >= 0 {
		return v[:idx]
	}
	return v
}
