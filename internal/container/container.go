// Package container implements the Container Manager: the domain
// object tracking one logical database instance and its lifecycle
// operations — create, clone, rename, delete, manifest persistence,
// and status reconciliation.
package container

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/pkg/logger"
)

// namePattern is the container-name safety regex, distinct from
// internal/engine's SQL-identifier regex: container names allow
// hyphens, SQL identifiers do not.
var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidateName checks name against the container-naming regex.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid container name %q: must match %s", name, namePattern.String())
	}
	return nil
}

// Manager owns containers' manifests and directory trees under one
// paths.Service root. It never coordinates with other processes
// beyond filesystem existence checks — two concurrent creates of the
// same name race on the manifest existence check and the manifest
// write, not on an in-process lock.
type Manager struct {
	paths *paths.Service
	log   *logger.Logger
}

// New builds a Manager rooted at p.
func New(p *paths.Service, log *logger.Logger) *Manager {
	return &Manager{paths: p, log: log}
}

// CreateOptions configures Create.
type CreateOptions struct {
	Database string // primary database name; defaults to the container name
}

// Create allocates a new container: validates the name, claims a free
// port in the engine's range, creates its directory tree, and
// persists an initial manifest with StatusCreated.
func (m *Manager) Create(engineName, name, version string, opts CreateOptions) (*Container, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	desc, ok := engine.Lookup(engineName)
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", engineName)
	}

	manifestPath := m.paths.ManifestFile(engineName, name)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil, fmt.Errorf("container %q already exists for engine %q", name, engineName)
	}

	port, err := m.allocatePort(desc)
	if err != nil {
		return nil, err
	}

	database := opts.Database
	if database == "" {
		database = name
	}

	manifest := Manifest{
		Name:      name,
		Engine:    engineName,
		Version:   version,
		Port:      port,
		Database:  database,
		Databases: []string{database},
		Created:   now(),
		Status:    StatusCreated,
		UpdatedAt: now(),
	}

	if err := os.MkdirAll(m.paths.DataDir(engineName, name), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c := m.toContainer(engineName, name, manifest)
	if err := m.persist(c); err != nil {
		_ = os.RemoveAll(m.paths.ContainerRoot(engineName, name))
		return nil, err
	}
	return c, nil
}

// allocatePort scans an engine's candidate port range for the first
// loopback port currently unbound. "Unique among currently-running
// containers" is weaker than "unique forever", so checking live
// bindability is the correct test rather than scanning sibling
// manifests for a previously-recorded port that may no longer be held
// by anything.
func (m *Manager) allocatePort(desc engine.Descriptor) (int, error) {
	for port := desc.PortRangeStart; port <= desc.PortRangeEnd; port++ {
		if platform.IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port in range %d-%d for engine %q", desc.PortRangeStart, desc.PortRangeEnd, desc.Name)
}

// Load reads a container's manifest from disk.
func (m *Manager) Load(engineName, name string) (*Container, error) {
	manifestPath := m.paths.ManifestFile(engineName, name)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("load container %q: %w", name, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest for %q: %w", name, err)
	}
	return m.toContainer(engineName, name, manifest), nil
}

// List returns every container known for engineName, sorted by name.
func (m *Manager) List(engineName string) ([]*Container, error) {
	root := filepath.Join(m.paths.Root, "containers", engineName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	containers := make([]*Container, 0, len(names))
	for _, name := range names {
		c, err := m.Load(engineName, name)
		if err != nil {
			if m.log != nil {
				m.log.WithField("container", name).WithField("error", err).Warn("skipping unreadable container manifest")
			}
			continue
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// Clone copies an existing container's data directory into a new
// container, preserving engine and version. Its port comes from the
// same free-port scan as Create, so a clone of a stopped container can
// receive the source's port.
// The new manifest's ClonedFrom names the source container and
// CloneID correlates the two independent of either one's later rename.
func (m *Manager) Clone(engineName, sourceName, newName string) (*Container, error) {
	src, err := m.Load(engineName, sourceName)
	if err != nil {
		return nil, err
	}

	dst, err := m.Create(engineName, newName, src.Manifest.Version, CreateOptions{Database: src.Manifest.Database})
	if err != nil {
		return nil, err
	}

	if err := copyDir(src.DataDir, dst.DataDir); err != nil {
		_ = os.RemoveAll(m.paths.ContainerRoot(engineName, newName))
		return nil, fmt.Errorf("copy data dir: %w", err)
	}

	dst.Manifest.Databases = append([]string(nil), src.Manifest.Databases...)
	dst.Manifest.ClonedFrom = sourceName
	dst.Manifest.CloneID = uuid.NewString()
	dst.Manifest.BinaryPath = src.Manifest.BinaryPath
	if err := m.persist(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Rename moves a container's directory tree to a new name and updates
// its manifest's Name field in place.
func (m *Manager) Rename(engineName, oldName, newName string) (*Container, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	newRoot := m.paths.ContainerRoot(engineName, newName)
	if _, err := os.Stat(newRoot); err == nil {
		return nil, fmt.Errorf("container %q already exists for engine %q", newName, engineName)
	}

	c, err := m.Load(engineName, oldName)
	if err != nil {
		return nil, err
	}

	oldRoot := m.paths.ContainerRoot(engineName, oldName)
	if err := os.Rename(oldRoot, newRoot); err != nil {
		return nil, fmt.Errorf("rename container directory: %w", err)
	}

	renamed := m.toContainer(engineName, newName, c.Manifest)
	renamed.Manifest.Name = newName
	if err := m.persist(renamed); err != nil {
		return nil, err
	}
	return renamed, nil
}

// Delete removes a container's entire directory tree. Binary
// installations are untouched: they are shared and immutable, owned
// by the binary registry, not by any one container.
func (m *Manager) Delete(engineName, name string) error {
	root := m.paths.ContainerRoot(engineName, name)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("delete container %q: %w", name, err)
	}
	return nil
}

// UpdateStatus persists a new advisory status for c. Callers reconcile
// this against the Process Supervisor's authoritative PID-file check;
// the manifest's status is never itself consulted to decide whether an
// engine is actually running.
func (m *Manager) UpdateStatus(c *Container, status Status) error {
	c.Manifest.Status = status
	return m.persist(c)
}

// Persist writes c's manifest back to disk, bumping UpdatedAt.
func (m *Manager) Persist(c *Container) error {
	return m.persist(c)
}

// SetBinaryPath records the binary installation directory an Engine
// Adapter last resolved for c, the optional last-used binary path
// manifest field.
func (m *Manager) SetBinaryPath(c *Container, path string) error {
	c.Manifest.BinaryPath = path
	c.BinaryDir = path
	return m.persist(c)
}

func (m *Manager) persist(c *Container) error {
	c.Manifest.UpdatedAt = now()
	data, err := json.MarshalIndent(c.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.ManifestFile), 0o755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}

	tmp := c.ManifestFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, c.ManifestFile); err != nil {
		return fmt.Errorf("install manifest: %w", err)
	}
	return nil
}

func (m *Manager) toContainer(engineName, name string, manifest Manifest) *Container {
	desc, _ := engine.Lookup(engineName)
	return &Container{
		Manifest:     manifest,
		DataDir:      m.paths.DataDir(engineName, name),
		LogFile:      m.paths.LogFile(engineName, name, desc.LogFileName),
		PidFile:      m.paths.PidFile(engineName, name, desc.PidFileName),
		ConfFile:     m.paths.ConfigFilePath(engineName, name, desc.ConfFileName),
		BinaryDir:    manifestBinaryDir(manifest),
		ManifestFile: m.paths.ManifestFile(engineName, name),
	}
}

func manifestBinaryDir(manifest Manifest) string {
	return manifest.BinaryPath
}

// manifestRewriter adapts one (Manager, engine) pair to
// binaryregistry.ManifestRewriter, letting the Binary Registry's
// self-healing algorithm correct a container's recorded version after
// locating or fetching a same-major replacement.
type manifestRewriter struct {
	mgr    *Manager
	engine string
}

// NewManifestRewriter returns a binaryregistry.ManifestRewriter bound
// to engineName.
func (m *Manager) NewManifestRewriter(engineName string) *manifestRewriter {
	return &manifestRewriter{mgr: m, engine: engineName}
}

func (r *manifestRewriter) RewriteVersion(containerName, newVersion string) error {
	c, err := r.mgr.Load(r.engine, containerName)
	if err != nil {
		return err
	}
	c.Manifest.Version = newVersion
	return r.mgr.persist(c)
}

func now() time.Time {
	return time.Now().UTC()
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
