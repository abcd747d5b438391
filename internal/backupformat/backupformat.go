// Package backupformat classifies a dump file by sniffing its header
// bytes. Detection is a pure function of the first ≤263 bytes of the
// file and the reading engine family: no side effects, safe to call
// repeatedly with stable results.
package backupformat

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dbforge/dbforge/internal/apperrors"
)

// SniffLength is the number of header bytes Detect reads.
const SniffLength = 263

// Tag is one of the closed set of recognized format tags.
type Tag string

const (
	TagSQL              Tag = "sql"
	TagCompressed       Tag = "compressed"
	TagCustom           Tag = "custom"
	TagTar              Tag = "tar"
	TagMySQLSQL         Tag = "mysql_sql"
	TagPostgreSQLSQL    Tag = "postgresql_sql"
	TagPostgreSQLCustom Tag = "postgresql_custom"
	TagRDB              Tag = "rdb"
	TagText             Tag = "text"
	TagSnapshot         Tag = "snapshot"
	TagUnknown          Tag = "unknown"
)

// Descriptor is what Detect / the Adapter contract's
// DetectBackupFormat returns.
type Descriptor struct {
	Tag           Tag
	Description   string
	SuggestedTool string
}

// Family identifies which engine family a reading adapter belongs to,
// since the same on-disk bytes classify differently depending on
// who's asking.
type Family string

const (
	FamilyPostgres Family = "postgres"
	FamilyMySQL    Family = "mysql"
	FamilyKeyValue Family = "kv"
	FamilyVector   Family = "vector"
)

// Detect reads up to SniffLength bytes from path and classifies it
// according to an ordered magic-byte rule list, interpreted for the
// reading family.
func Detect(path string, family Family) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, SniffLength)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Descriptor{}, fmt.Errorf("read header of %s: %w", path, err)
	}
	header = header[:n]

	return DetectBytes(header, family), nil
}

// DetectBytes classifies an in-memory header (≤SniffLength bytes),
// the pure core Detect wraps around file I/O.
func DetectBytes(header []byte, family Family) Descriptor {
	if len(header) >= 5 && bytes.Equal(header[0:5], []byte("PGDMP")) {
		if family == FamilyPostgres {
			return Descriptor{Tag: TagCustom, Description: "PostgreSQL custom-format dump", SuggestedTool: "pg_restore"}
		}
		return Descriptor{Tag: TagPostgreSQLCustom, Description: "foreign PostgreSQL custom-format dump", SuggestedTool: "pg_restore"}
	}

	if len(header) >= 262 && bytes.Equal(header[257:262], []byte("ustar")) {
		return Descriptor{Tag: TagTar, Description: "tar archive", SuggestedTool: "tar"}
	}

	if len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b {
		if family == FamilyVector {
			return Descriptor{Tag: TagSnapshot, Description: "gzip-compressed snapshot", SuggestedTool: ""}
		}
		return Descriptor{Tag: TagCompressed, Description: "gzip-compressed dump", SuggestedTool: "gunzip"}
	}

	firstLine := firstNonEmptyLine(header)
	lower := strings.ToLower(firstLine)

	switch {
	case strings.Contains(lower, "-- mysql dump") || strings.Contains(lower, "-- mariadb dump"):
		if family == FamilyMySQL {
			return Descriptor{Tag: TagSQL, Description: "native MySQL/MariaDB SQL dump", SuggestedTool: "mysql"}
		}
		return Descriptor{Tag: TagMySQLSQL, Description: "foreign MySQL/MariaDB SQL dump", SuggestedTool: "mysql"}
	case strings.Contains(lower, "-- postgresql database dump") || strings.Contains(lower, "pg_dump"):
		if family == FamilyPostgres {
			return Descriptor{Tag: TagSQL, Description: "native PostgreSQL SQL dump", SuggestedTool: "psql"}
		}
		return Descriptor{Tag: TagPostgreSQLSQL, Description: "foreign PostgreSQL SQL dump", SuggestedTool: "psql"}
	}

	for _, token := range []string{"--", "/*", "SET ", "CREATE", "DROP", "BEGIN", "USE"} {
		if strings.HasPrefix(strings.TrimSpace(firstLine), token) {
			return Descriptor{Tag: TagSQL, Description: "plain SQL script", SuggestedTool: "psql"}
		}
	}

	if family == FamilyKeyValue {
		if len(header) >= 5 && bytes.Equal(header[0:5], []byte("REDIS")) {
			return Descriptor{Tag: TagRDB, Description: "Redis/Valkey RDB snapshot", SuggestedTool: "redis-cli"}
		}
		if looksLikeCommandVerb(firstLine) {
			return Descriptor{Tag: TagText, Description: "line-oriented command dump", SuggestedTool: "redis-cli"}
		}
	}

	if family == FamilyVector {
		return Descriptor{Tag: TagUnknown, Description: "unrecognized vector engine file", SuggestedTool: ""}
	}

	return Descriptor{Tag: TagUnknown, Description: "unrecognized dump format", SuggestedTool: ""}
}

func firstNonEmptyLine(header []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(header))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line
		}
	}
	return ""
}

var commandVerbs = []string{"SET", "HSET", "RPUSH", "LPUSH", "SADD", "ZADD", "EXPIRE", "DEL", "GET"}

func looksLikeCommandVerb(line string) bool {
	upper := strings.ToUpper(strings.TrimSpace(line))
	for _, verb := range commandVerbs {
		if strings.HasPrefix(upper, verb+" ") {
			return true
		}
	}
	return false
}

// AssertCompatibleFormat refuses a cross-family dump restore.
// detectedEngine is a best-effort guess used to compose the error's
// suggestion (e.g. "retry with --engine mysql").
func AssertCompatibleFormat(d Descriptor, expectedEngine, detectedEngine string) error {
	foreign := map[Tag]bool{
		TagMySQLSQL:         true,
		TagPostgreSQLSQL:    true,
		TagPostgreSQLCustom: true,
	}
	if foreign[d.Tag] {
		return apperrors.WrongEngineDump(string(d.Tag), expectedEngine, detectedEngine)
	}
	return nil
}
