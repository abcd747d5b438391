// Package toolregistry persists a process-wide cache of tool-name to
// absolute-path resolutions. The cache survives restarts as a JSON
// document and is invalidated when the path it names stops existing
// on disk or goes stale.
package toolregistry

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/dbforge/dbforge/internal/platform"
	"github.com/dbforge/dbforge/pkg/logger"
)

// Provenance records where a registered tool path came from.
type Provenance string

const (
	ProvenanceBundled Provenance = "bundled"
	ProvenanceSystem  Provenance = "system"
)

// StaleAfter is how long a registration is trusted without
// revalidation.
const StaleAfter = 7 * 24 * time.Hour

// Entry is one tool's registration record.
type Entry struct {
	Path      string     `json:"path"`
	Provenance Provenance `json:"provenance"`
	Version   string     `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type document struct {
	Binaries  map[string]Entry `json:"binaries"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Registry is the in-process, disk-backed tool registry. Safe for
// concurrent use.
type Registry struct {
	mu   sync.Mutex
	path string
	log  *logger.Logger
	doc  document
}

// New loads (or initializes) a Registry persisted at path.
func New(path string, log *logger.Logger) *Registry {
	r := &Registry{path: path, log: log, doc: document{Binaries: map[string]Entry{}}}
	r.load()
	return r
}

func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if r.log != nil {
			r.log.WithField("path", r.path).Warn("corrupt tool registry JSON, resetting to defaults")
		}
		r.doc = document{Binaries: map[string]Entry{}}
		return
	}
	if doc.Binaries == nil {
		doc.Binaries = map[string]Entry{}
	}
	r.doc = doc
}

// persist writes the registry atomically: write to a temp file in the
// same directory, then rename over the target.
func (r *Registry) persist() error {
	r.doc.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// GetPath returns a cached, still-existing path for tool. If absent
// from the cache, it probes PATH and auto-registers with provenance
// system. Returns "" if the tool cannot be found anywhere.
func (r *Registry) GetPath(tool string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.doc.Binaries[tool]; ok {
		if _, err := os.Stat(entry.Path); err == nil {
			return entry.Path
		}
		delete(r.doc.Binaries, tool)
		_ = r.persist()
	}

	found := platform.FindToolOnPath(tool)
	if found == "" {
		return ""
	}
	r.setPathLocked(tool, found, ProvenanceSystem)
	return found
}

// SetPath registers tool at path with the given provenance, probing
// "<path> --version" best-effort to record a detected version.
func (r *Registry) SetPath(tool, path string, provenance Provenance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setPathLocked(tool, path, provenance)
}

func (r *Registry) setPathLocked(tool, path string, provenance Provenance) {
	version := probeVersion(path)
	r.doc.Binaries[tool] = Entry{
		Path:       path,
		Provenance: provenance,
		Version:    version,
		UpdatedAt:  time.Now(),
	}
	if err := r.persist(); err != nil && r.log != nil {
		r.log.WithField("tool", tool).WithField("error", err).Warn("failed to persist tool registry")
	}
}

func probeVersion(path string) string {
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// Clear evicts a single tool's registration.
func (r *Registry) Clear(tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.doc.Binaries, tool)
	_ = r.persist()
}

// ClearAll evicts every registration.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Binaries = map[string]Entry{}
	_ = r.persist()
}

// IsStale reports whether the registry as a whole was last updated
// more than StaleAfter ago.
func (r *Registry) IsStale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.doc.UpdatedAt) > StaleAfter
}

// RefreshIfStale clears and lets subsequent GetPath calls re-discover,
// if the registry is older than StaleAfter.
func (r *Registry) RefreshIfStale() {
	if !r.IsStale() {
		return
	}
	r.ClearAll()
}

// Entries returns a snapshot copy of all current registrations, keyed
// by tool name.
func (r *Registry) Entries() map[string]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Entry, len(r.doc.Binaries))
	for k, v := range r.doc.Binaries {
		out[k] = v
	}
	return out
}
