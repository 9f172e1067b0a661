// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Database, Search, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig locates the index and selects the storage flags used when
// opening it. Path may be a database directory, a single-file segment or a
// stub file; an empty path selects the in-memory backend.
// Slots names the value slots shared by the indexer, which fills them, and
// the searcher, which sorts and collapses on them.
type DatabaseConfig struct {
	Path      string            `yaml:"path"`
	Backend   string            `yaml:"backend"`
	NoSync    bool              `yaml:"noSync"`
	FullSync  bool              `yaml:"fullSync"`
	RetryLock bool              `yaml:"retryLock"`
	Slots     map[string]uint32 `yaml:"slots"`
}

// SearchConfig controls query parsing and match execution limits.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxResults      int           `yaml:"maxResults"`
	CheckAtLeast    int           `yaml:"checkAtLeast"`
	DefaultOp       string        `yaml:"defaultOp"`
	Language        string        `yaml:"language"`
	StemStrategy    string        `yaml:"stemStrategy"`
	Stopwords       bool          `yaml:"stopwords"`
	SpellingCorrect bool          `yaml:"spellingCorrect"`
	Timeout         time.Duration `yaml:"timeout"`
}

// IndexerConfig controls how ingested documents are batched into commits.
type IndexerConfig struct {
	CommitBatch    int           `yaml:"commitBatch"`
	CommitInterval time.Duration `yaml:"commitInterval"`
	Language       string        `yaml:"language"`
	StemStrategy   string        `yaml:"stemStrategy"`
	Spelling       bool          `yaml:"spelling"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	DeadLetter     string `yaml:"deadLetter"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads the YAML file at path, if any, over the defaults, then applies
// QC_* environment overrides. Every bad override and every invalid setting
// is reported together.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := multierror.Append(cfg.applyEnv(os.LookupEnv), cfg.Validate()).ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Search.DefaultLimit <= 0 {
		fail("search.defaultLimit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxResults < c.Search.DefaultLimit {
		fail("search.maxResults (%d) must be >= search.defaultLimit (%d)", c.Search.MaxResults, c.Search.DefaultLimit)
	}
	if op := strings.ToUpper(c.Search.DefaultOp); op != "OR" && op != "AND" {
		fail("search.defaultOp must be OR or AND, got %q", c.Search.DefaultOp)
	}
	if !slices.Contains([]string{"", "auto", "inmemory", "directory", "stub"}, c.Database.Backend) {
		fail("database.backend %q is not one of auto, inmemory, directory, stub", c.Database.Backend)
	}
	if c.Indexer.CommitBatch < 0 {
		fail("indexer.commitBatch must not be negative, got %d", c.Indexer.CommitBatch)
	}
	names := slices.Sorted(maps.Keys(c.Database.Slots))
	owner := make(map[uint32]string, len(names))
	for _, name := range names {
		slot := c.Database.Slots[name]
		if other, ok := owner[slot]; ok {
			fail("database.slots: %q and %q share slot %d", other, name, slot)
			continue
		}
		owner[slot] = name
	}
	return result.ErrorOrNil()
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:    "data/index",
			Backend: "auto",
			Slots: map[string]uint32{
				"created_at": 0,
				"source":     1,
			},
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			CheckAtLeast: 0,
			DefaultOp:    "OR",
			Language:     "english",
			StemStrategy: "some",
			Stopwords:    true,
			Timeout:      5 * time.Second,
		},
		Indexer: IndexerConfig{
			CommitBatch:    1000,
			CommitInterval: 10 * time.Second,
			Language:       "english",
			StemStrategy:   "some",
			Spelling:       true,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "querycore",
			User:            "querycore",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "querycore-indexer",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				DeadLetter:     "document-ingest-dlq",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// envOverrides maps each QC_* variable onto the field it sets.
var envOverrides = []struct {
	name string
	set  func(c *Config, v string) error
}{
	{"QC_SERVER_PORT", func(c *Config, v string) error { return parseInt(v, &c.Server.Port) }},
	{"QC_DATABASE_PATH", func(c *Config, v string) error { c.Database.Path = v; return nil }},
	{"QC_DATABASE_BACKEND", func(c *Config, v string) error { c.Database.Backend = v; return nil }},
	{"QC_DATABASE_RETRY_LOCK", func(c *Config, v string) error { return parseBool(v, &c.Database.RetryLock) }},
	{"QC_SEARCH_DEFAULT_OP", func(c *Config, v string) error { c.Search.DefaultOp = v; return nil }},
	{"QC_SEARCH_LANGUAGE", func(c *Config, v string) error {
		c.Search.Language, c.Indexer.Language = v, v
		return nil
	}},
	{"QC_INDEXER_COMMIT_BATCH", func(c *Config, v string) error { return parseInt(v, &c.Indexer.CommitBatch) }},
	{"QC_POSTGRES_HOST", func(c *Config, v string) error { c.Postgres.Host = v; return nil }},
	{"QC_POSTGRES_PORT", func(c *Config, v string) error { return parseInt(v, &c.Postgres.Port) }},
	{"QC_POSTGRES_DATABASE", func(c *Config, v string) error { c.Postgres.Database = v; return nil }},
	{"QC_POSTGRES_USER", func(c *Config, v string) error { c.Postgres.User = v; return nil }},
	{"QC_POSTGRES_PASSWORD", func(c *Config, v string) error { c.Postgres.Password = v; return nil }},
	{"QC_KAFKA_BROKERS", func(c *Config, v string) error { c.Kafka.Brokers = strings.Split(v, ","); return nil }},
	{"QC_REDIS_ADDR", func(c *Config, v string) error {
		c.Redis.Addr, c.Redis.Enabled = v, true
		return nil
	}},
	{"QC_REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"QC_LOGGING_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"QC_LOGGING_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// applyEnv applies every non-empty override that lookup finds.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error
	for _, o := range envOverrides {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	return result.ErrorOrNil()
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
