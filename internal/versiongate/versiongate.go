// Package versiongate parses a client tool's reported version, parses
// a dump's recorded source version, and decides whether a restore is
// allowed to proceed against the available tool.
package versiongate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbforge/dbforge/internal/apperrors"
)

// Version is a parsed major.minor.patch triple.
type Version struct {
	Major, Minor, Patch int
}

var toolVersionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseToolVersion extracts a Version from the first line of a client
// tool's `--version` output, e.g.
// "pg_restore (PostgreSQL) 14.9 (Homebrew)" -> {14,9,0}.
func ParseToolVersion(output string) (Version, error) {
	firstLine := output
	if idx := strings.IndexByte(output, '\n'); idx >= 0 {
		firstLine = output[:idx]
	}
	m := toolVersionPattern.FindStringSubmatch(firstLine)
	if m == nil {
		return Version{}, fmt.Errorf("no version found in tool output: %q", firstLine)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

var dumpedFromPattern = regexp.MustCompile(`(?i)Dumped from database version\s+(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseDumpVersionFromText scans up to maxLines lines of text (an
// archive's `--list` output, or a plain SQL file's head) for a "Dumped
// from database version X.Y(.Z)?" marker. Returns nil if not found —
// an unknown dump version is treated as compatible-with-warning, not
// an error.
func ParseDumpVersionFromText(r io.Reader, maxLines int) *Version {
	scanner := bufio.NewScanner(r)
	lines := 0
	for scanner.Scan() && lines < maxLines {
		lines++
		m := dumpedFromPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch := 0
		if m[3] != "" {
			patch, _ = strconv.Atoi(m[3])
		}
		v := Version{Major: major, Minor: minor, Patch: patch}
		return &v
	}
	return nil
}

// ParseDumpVersionFromArchive invokes `<tool> --list <dumpPath>` and
// scans its output for the "Dumped from database version" marker.
// Used for archive-format dumps (pg_restore --list, etc); plain SQL
// dumps should use ParseDumpVersionFromText directly on the first 50
// lines of the file.
func ParseDumpVersionFromArchive(toolPath, dumpPath string) (*Version, error) {
	cmd := exec.Command(toolPath, "--list", dumpPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s --list %s: %w", toolPath, dumpPath, err)
	}
	return ParseDumpVersionFromText(strings.NewReader(string(out)), 1<<20), nil
}

// ParseDumpVersionFromSQLFile reads the first maxLines lines of a
// plain-SQL dump and looks for the version marker.
func ParseDumpVersionFromSQLFile(path string, maxLines int) (*Version, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDumpVersionFromText(f, maxLines), nil
}

// CheckResult is what Check returns.
type CheckResult struct {
	Compatible bool
	Error      error
	Warning    string
}

// Check applies the compatibility rule:
//   - nil dump version -> compatible, warning "version unknown".
//   - dump.major > tool.major -> incompatible.
//   - tool.major - dump.major >= 3 -> compatible, warning "very old dump".
//   - else -> compatible, no warning.
func Check(engine string, dump *Version, tool Version) CheckResult {
	if dump == nil {
		return CheckResult{Compatible: true, Warning: "dump version unknown"}
	}
	if dump.Major > tool.Major {
		return CheckResult{
			Compatible: false,
			Error:      apperrors.VersionMismatch(engine, dump.Major, tool.Major),
		}
	}
	if tool.Major-dump.Major >= 3 {
		return CheckResult{Compatible: true, Warning: "very old dump"}
	}
	return CheckResult{Compatible: true}
}
