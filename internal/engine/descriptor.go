// Package engine defines the contract every engine adapter implements,
// the closed registry of supported engines, and the cross-engine
// helpers (identifier safety, version normalization, SQL value
// escaping) the concrete adapters in internal/engine/* share.
package engine

// Family groups engines that share a wire protocol and adapter
// behavior.
type Family string

const (
	FamilyPostgresWire Family = "postgres-wire"
	FamilyMySQLWire    Family = "mysql-wire"
	FamilyKeyValue     Family = "key-value"
	FamilyHTTP         Family = "http"
)

// Descriptor is the static, per-engine registration data.
type Descriptor struct {
	Name              string
	DisplayName       string
	Family            Family
	DefaultPort       int
	PortRangeStart    int
	PortRangeEnd      int
	DefaultSuperuser  string
	URLScheme         string
	LogFileName       string
	PidFileName       string
	ConfFileName      string
	DataSubdir        string
	RequiredTools     []string
	DefaultMaxConns   int
	DefaultVersion    string
	LatestMajor       string
	VersionMap        map[string]string // shorthand -> full version, e.g. "16" -> "16.1.0"
}

// registry is the closed tagged union of supported engines, keyed by
// canonical name.
var registry = map[string]Descriptor{
	"postgresql": {
		Name: "postgresql", DisplayName: "PostgreSQL", Family: FamilyPostgresWire,
		DefaultPort: 5432, PortRangeStart: 5432, PortRangeEnd: 5532,
		DefaultSuperuser: "postgres", URLScheme: "postgresql",
		LogFileName: "postgresql.log", PidFileName: "postgresql.pid", ConfFileName: "postgresql.conf",
		DataSubdir:      "data",
		RequiredTools:   []string{"psql", "pg_dump", "pg_restore", "initdb", "pg_ctl"},
		DefaultMaxConns: 100,
		DefaultVersion:  "16", LatestMajor: "17",
		VersionMap: map[string]string{"16": "16.1.0", "17": "17.0.0", "15": "15.5.0", "14": "14.10.0"},
	},
	"cockroachdb": {
		Name: "cockroachdb", DisplayName: "CockroachDB", Family: FamilyPostgresWire,
		DefaultPort: 26257, PortRangeStart: 26257, PortRangeEnd: 26357,
		DefaultSuperuser: "root", URLScheme: "postgresql",
		LogFileName: "cockroach.log", PidFileName: "cockroach.pid", ConfFileName: "",
		DataSubdir:      "data",
		RequiredTools:   []string{"cockroach"},
		DefaultMaxConns: 100,
		DefaultVersion:  "23.2", LatestMajor: "24.1",
		VersionMap: map[string]string{"23.2": "23.2.0", "24.1": "24.1.0"},
	},
	"mysql": {
		Name: "mysql", DisplayName: "MySQL", Family: FamilyMySQLWire,
		DefaultPort: 3306, PortRangeStart: 3306, PortRangeEnd: 3406,
		DefaultSuperuser: "root", URLScheme: "mysql",
		LogFileName: "mysql.log", PidFileName: "mysql.pid", ConfFileName: "my.cnf",
		DataSubdir:      "data",
		RequiredTools:   []string{"mysql", "mysqld", "mysqladmin", "mysqldump", "mysql_install_db"},
		DefaultMaxConns: 151,
		DefaultVersion:  "8.0", LatestMajor: "8",
		VersionMap: map[string]string{"8.0": "8.0.36", "8": "8.0.36"},
	},
	"mariadb": {
		Name: "mariadb", DisplayName: "MariaDB", Family: FamilyMySQLWire,
		DefaultPort: 3306, PortRangeStart: 3306, PortRangeEnd: 3406,
		DefaultSuperuser: "root", URLScheme: "mysql",
		LogFileName: "mariadb.log", PidFileName: "mariadb.pid", ConfFileName: "my.cnf",
		DataSubdir:      "data",
		RequiredTools:   []string{"mariadb", "mariadbd", "mariadb-admin", "mariadb-dump", "mariadb-install-db"},
		DefaultMaxConns: 151,
		DefaultVersion:  "11.2", LatestMajor: "11",
		VersionMap: map[string]string{"11.2": "11.2.3", "11": "11.2.3"},
	},
	"redis": {
		Name: "redis", DisplayName: "Redis", Family: FamilyKeyValue,
		DefaultPort: 6379, PortRangeStart: 6379, PortRangeEnd: 6479,
		DefaultSuperuser: "", URLScheme: "redis",
		LogFileName: "redis.log", PidFileName: "redis.pid", ConfFileName: "redis.conf",
		DataSubdir:      "data",
		RequiredTools:   []string{"redis-server", "redis-cli"},
		DefaultMaxConns: 10000,
		DefaultVersion:  "7.2", LatestMajor: "7",
		VersionMap: map[string]string{"7.2": "7.2.4", "7": "7.2.4"},
	},
	"valkey": {
		Name: "valkey", DisplayName: "Valkey", Family: FamilyKeyValue,
		DefaultPort: 6379, PortRangeStart: 6379, PortRangeEnd: 6479,
		DefaultSuperuser: "", URLScheme: "valkey",
		LogFileName: "valkey.log", PidFileName: "valkey.pid", ConfFileName: "valkey.conf",
		DataSubdir:      "data",
		RequiredTools:   []string{"valkey-server", "valkey-cli"},
		DefaultMaxConns: 10000,
		DefaultVersion:  "7.2", LatestMajor: "7",
		VersionMap: map[string]string{"7.2": "7.2.5", "7": "7.2.5"},
	},
	"qdrant": {
		Name: "qdrant", DisplayName: "Qdrant", Family: FamilyHTTP,
		DefaultPort: 6333, PortRangeStart: 6333, PortRangeEnd: 6433,
		URLScheme: "http",
		LogFileName: "qdrant.log", PidFileName: "qdrant.pid", ConfFileName: "config.yaml",
		DataSubdir:      "data",
		RequiredTools:   []string{"qdrant"},
		DefaultVersion:  "1.9", LatestMajor: "1",
		VersionMap: map[string]string{"1.9": "1.9.0", "1": "1.9.0"},
	},
	"weaviate": {
		Name: "weaviate", DisplayName: "Weaviate", Family: FamilyHTTP,
		DefaultPort: 8079, PortRangeStart: 8079, PortRangeEnd: 8179,
		URLScheme: "http",
		LogFileName: "weaviate.log", PidFileName: "weaviate.pid", ConfFileName: "",
		DataSubdir:      "data",
		RequiredTools:   []string{"weaviate"},
		DefaultVersion:  "1.24", LatestMajor: "1",
		VersionMap: map[string]string{"1.24": "1.24.1", "1": "1.24.1"},
	},
	"meilisearch": {
		Name: "meilisearch", DisplayName: "Meilisearch", Family: FamilyHTTP,
		DefaultPort: 7700, PortRangeStart: 7700, PortRangeEnd: 7800,
		URLScheme: "http",
		LogFileName: "meilisearch.log", PidFileName: "meilisearch.pid", ConfFileName: "",
		DataSubdir:      "data",
		RequiredTools:   []string{"meilisearch"},
		DefaultVersion:  "1.7", LatestMajor: "1",
		VersionMap: map[string]string{"1.7": "1.7.2", "1": "1.7.2"},
	},
}

// Lookup returns the Descriptor for a canonical engine name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names returns every supported engine's canonical name, sorted is not
// guaranteed by this slice's construction order but callers that need
// a stable order should sort it themselves.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
