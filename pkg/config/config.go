package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ethpandaops/crateroor/pkg/fsutil"
	"github.com/ethpandaops/crateroor/pkg/toolchain"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// CRATEROOR_DATABASE_DRIVER.
	EnvPrefix = "CRATEROOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogMaxSizeMB is the size at which the log file is rotated.
	DefaultLogMaxSizeMB = 100

	// DefaultLogMaxBackups is the number of rotated log files kept.
	DefaultLogMaxBackups = 3

	// DefaultLogMaxAgeDays is the age after which rotated log files are removed.
	DefaultLogMaxAgeDays = 28

	// DefaultDatabaseDriver is the default result store driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default sqlite database file.
	DefaultSQLitePath = "./crateroor.db"

	// DefaultDiscoverySource lists toolchains from the Rust dist bucket.
	DefaultDiscoverySource = "s3"

	// DefaultDistBucket is the bucket backing static.rust-lang.org.
	DefaultDistBucket = "static-rust-lang-org"

	// DefaultDistRegion is the region of DefaultDistBucket.
	DefaultDistRegion = "us-west-1"

	// DefaultDistPrefix is the key prefix of dated dist archives.
	DefaultDistPrefix = "dist/"

	// DefaultIndexAddress is the crates.io package index repository.
	DefaultIndexAddress = "https://github.com/rust-lang/crates.io-index"

	// DefaultIndexBranch is the branch checked out from the index.
	DefaultIndexBranch = "master"

	// DefaultCacheDir holds the index checkout.
	DefaultCacheDir = "./cache"

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 120

	// DefaultIngestConcurrency bounds parallel upserts during imports.
	DefaultIngestConcurrency = 8

	// DefaultPublishPrefix is the key prefix for published reports.
	DefaultPublishPrefix = "reports/weekly"
)

// Config is the root configuration for crateroor.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Publish   PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	// FileOwner optionally sets the owner of written report files, as
	// "UID:GID".
	FileOwner string        `yaml:"file_owner,omitempty" mapstructure:"file_owner"`
	LogFile   LogFileConfig `yaml:"log_file,omitempty" mapstructure:"log_file"`
}

// LogFileConfig enables a rotating log file in addition to stderr.
type LogFileConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// DatabaseConfig contains result store connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DiscoveryConfig selects where available toolchain snapshots come from.
type DiscoveryConfig struct {
	Source string                `yaml:"source" mapstructure:"source"`
	S3     S3Config              `yaml:"s3,omitempty" mapstructure:"s3"`
	Static StaticDiscoveryConfig `yaml:"static,omitempty" mapstructure:"static"`
}

// StaticDiscoveryConfig lists snapshot dates per channel.
type StaticDiscoveryConfig struct {
	Stable  []toolchain.Date `yaml:"stable,omitempty" mapstructure:"stable"`
	Beta    []toolchain.Date `yaml:"beta,omitempty" mapstructure:"beta"`
	Nightly []toolchain.Date `yaml:"nightly,omitempty" mapstructure:"nightly"`
}

// S3Config contains settings for an S3-compatible bucket.
type S3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// IndexConfig locates the package index used to build dependency graphs.
type IndexConfig struct {
	Address  string `yaml:"address" mapstructure:"address"`
	Branch   string `yaml:"branch,omitempty" mapstructure:"branch"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	Listen          string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins     []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	WriteTokenHash  string          `yaml:"write_token_hash,omitempty" mapstructure:"write_token_hash"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout,omitempty" mapstructure:"shutdown_timeout"`
}

// RateLimitConfig configures per-IP rate limiting. Burst defaults to
// RequestsPerMinute.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int  `yaml:"burst,omitempty" mapstructure:"burst"`
}

// PublishConfig configures where rendered reports are published.
type PublishConfig struct {
	S3 S3Config `yaml:"s3,omitempty" mapstructure:"s3"`
}

// IngestConfig configures bulk result imports.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads and merges the given config files in order, applies
// environment overrides and defaults, and decodes the result. With no
// paths only defaults and environment variables are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	)); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the key is absent from all config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.file_owner", "")
	v.SetDefault("global.log_file.path", "")
	v.SetDefault("global.log_file.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("global.log_file.max_backups", DefaultLogMaxBackups)
	v.SetDefault("global.log_file.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("global.log_file.compress", false)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "crateroor")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("discovery.source", DefaultDiscoverySource)
	setS3Defaults(v, "discovery.s3")
	v.SetDefault("discovery.s3.bucket", DefaultDistBucket)
	v.SetDefault("discovery.s3.region", DefaultDistRegion)
	v.SetDefault("discovery.s3.prefix", DefaultDistPrefix)
	v.SetDefault("discovery.static.stable", []string{})
	v.SetDefault("discovery.static.beta", []string{})
	v.SetDefault("discovery.static.nightly", []string{})

	v.SetDefault("index.address", DefaultIndexAddress)
	v.SetDefault("index.branch", DefaultIndexBranch)
	v.SetDefault("index.cache_dir", DefaultCacheDir)

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("api.rate_limit.burst", 0)
	v.SetDefault("api.write_token_hash", "")
	v.SetDefault("api.shutdown_timeout", "10s")

	setS3Defaults(v, "publish.s3")
	v.SetDefault("publish.s3.prefix", DefaultPublishPrefix)

	v.SetDefault("ingest.concurrency", DefaultIngestConcurrency)
}

func setS3Defaults(v *viper.Viper, key string) {
	v.SetDefault(key+".enabled", false)
	v.SetDefault(key+".endpoint_url", "")
	v.SetDefault(key+".region", "")
	v.SetDefault(key+".bucket", "")
	v.SetDefault(key+".prefix", "")
	v.SetDefault(key+".access_key_id", "")
	v.SetDefault(key+".secret_access_key", "")
	v.SetDefault(key+".force_path_style", false)
}

// applyDefaults fills values that were explicitly set to empty.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}

	if c.Index.Branch == "" {
		c.Index.Branch = DefaultIndexBranch
	}

	if c.API.RateLimit.RequestsPerMinute <= 0 {
		c.API.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = DefaultIngestConcurrency
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := fsutil.ParseOwner(c.Global.FileOwner); err != nil {
		return fmt.Errorf("global.file_owner: %w", err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Discovery.Source {
	case "s3":
		if c.Discovery.S3.Bucket == "" {
			return fmt.Errorf("discovery.s3.bucket is required")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported discovery source %q", c.Discovery.Source)
	}

	if c.Index.Address == "" {
		return fmt.Errorf("index.address is required")
	}

	if c.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit.burst must not be negative")
	}

	if c.Publish.S3.Enabled && c.Publish.S3.Bucket == "" {
		return fmt.Errorf("publish.s3.bucket is required when publishing is enabled")
	}

	return nil
}
