// Package binaryregistry resolves which on-disk binary installation
// backs a container's declared engine version, self-healing onto a
// same-major installation or a fresh download when the exact
// requested version isn't present.
package binaryregistry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/pkg/logger"
)

// Fetcher is the narrow view of internal/fetcher.Service the registry
// needs: install the supported latest version for a major, or fail.
// Declared here (rather than importing internal/fetcher directly) so
// tests can substitute a fake without spinning up network I/O.
type Fetcher interface {
	FetchLatestForMajor(ctx context.Context, engineName, major, osName, arch string, progress func(float64, string)) (string, error)
}

// ManifestRewriter lets the registry correct a container's recorded
// version when self-healing substitutes a different install. Narrow
// on purpose: internal/container implements it without
// internal/binaryregistry importing internal/container.
type ManifestRewriter interface {
	RewriteVersion(containerName, newVersion string) error
}

// Result is what Resolve returns.
type Result struct {
	Directory string
	Version   string
	Healed    bool
}

// Registry resolves binary installations, self-healing onto an
// available major-compatible version when the requested exact version
// is missing.
type Registry struct {
	paths   *paths.Service
	fetcher Fetcher
	log     *logger.Logger
}

// New builds a Registry.
func New(p *paths.Service, fetcher Fetcher, log *logger.Logger) *Registry {
	return &Registry{paths: p, fetcher: fetcher, log: log}
}

// Resolve runs the self-healing resolution algorithm: exact match,
// same-major fallback, then a fresh download. rewriter and
// containerName may be zero-valued when resolving outside any
// particular container's context (e.g. a standalone "ensure binaries"
// command); in that case the manifest rewrite step is skipped.
func (r *Registry) Resolve(ctx context.Context, engineName, requestedVersion, containerName string, rewriter ManifestRewriter, progress func(float64, string)) (Result, error) {
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return Result{}, fmt.Errorf("unknown engine %q", engineName)
	}

	full := engine.NormalizeVersion(engineName, requestedVersion)
	info := platform.GetPlatformInfo()
	if err := platform.RequireSupportedPlatform(info); err != nil {
		return Result{}, err
	}

	primaryTool := desc.RequiredTools[0]

	// Step 2: exact requested version already installed.
	dir := r.paths.BinaryRoot(engineName, full, info.OS, info.Arch)
	if toolExists(dir, primaryTool) {
		return Result{Directory: dir, Version: full, Healed: false}, nil
	}

	major := majorOf(full)

	// Step 3: any installed same-major version.
	if found, ok := r.paths.FindInstalledBinaryForMajor(engineName, major, info.OS, info.Arch); ok {
		healedDir := r.paths.BinaryRoot(engineName, found, info.OS, info.Arch)
		if r.log != nil {
			r.log.WithField("engine", engineName).WithField("requested", full).WithField("found", found).
				Info("self-healing to installed same-major version")
		}
		if rewriter != nil && containerName != "" {
			if err := rewriter.RewriteVersion(containerName, found); err != nil {
				return Result{}, fmt.Errorf("rewrite container manifest version: %w", err)
			}
		}
		return Result{Directory: healedDir, Version: found, Healed: true}, nil
	}

	// Step 5: unsupported major.
	if !supportsMajor(desc, major) {
		return Result{}, fmt.Errorf("unsupported %s major version %q; supported: %v", engineName, major, supportedVersions(desc))
	}

	// Step 4: fetch the supported latest for this major.
	if r.fetcher == nil {
		return Result{}, fmt.Errorf("no binary installed for %s %s and no fetcher configured", engineName, full)
	}
	downloaded, err := r.fetcher.FetchLatestForMajor(ctx, engineName, major, info.OS, info.Arch, progress)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s %s: %w", engineName, major, err)
	}
	downloadedDir := r.paths.BinaryRoot(engineName, downloaded, info.OS, info.Arch)
	if rewriter != nil && containerName != "" {
		if err := rewriter.RewriteVersion(containerName, downloaded); err != nil {
			return Result{}, fmt.Errorf("rewrite container manifest version: %w", err)
		}
	}
	return Result{Directory: downloadedDir, Version: downloaded, Healed: true}, nil
}

// IsInstalled reports whether the exact version is already installed
// for the current platform, without triggering any self-healing.
func (r *Registry) IsInstalled(engineName, version string) bool {
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return false
	}
	full := engine.NormalizeVersion(engineName, version)
	info := platform.GetPlatformInfo()
	dir := r.paths.BinaryRoot(engineName, full, info.OS, info.Arch)
	return toolExists(dir, desc.RequiredTools[0])
}

func toolExists(binaryRoot, tool string) bool {
	path := filepath.Join(binaryRoot, "bin", tool+platform.ExecutableExtension())
	_, err := os.Stat(path)
	return err == nil
}

// majorOf returns the dot-segment before the first '.', matching
// internal/paths.FindInstalledBinaryForMajor's definition of "major".
// For engines whose shorthand major is itself two components (e.g.
// CockroachDB's "23.2"), supportsMajor falls back to comparing against
// VersionMap keys' own leading segment, so both stay consistent.
func majorOf(full string) string {
	if idx := strings.Index(full, "."); idx >= 0 {
		return full[:idx]
	}
	return full
}

func supportsMajor(desc engine.Descriptor, major string) bool {
	for k := range desc.VersionMap {
		if k == major || majorOf(k) == major {
			return true
		}
	}
	return majorOf(desc.DefaultVersion) == major
}

func supportedVersions(desc engine.Descriptor) []string {
	out := make([]string, 0, len(desc.VersionMap))
	for k := range desc.VersionMap {
		out = append(out, k)
	}
	return out
}
