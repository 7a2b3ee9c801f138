package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend and driver names accepted in the config file.
const (
	MetadataPostgres = "postgres"
	MetadataSQLite   = "sqlite"

	BlobMinIO = "minio"
	BlobS3    = "s3"

	VectorRedis  = "redis"
	VectorMilvus = "milvus"
)

// Config holds the docrag service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Blob      BlobConfig      `yaml:"blob"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string        `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File  LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotated log file next to stderr. Empty Path disables it.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int `yaml:"max_upload_mb"`
}

// MetadataConfig holds relational database settings.
type MetadataConfig struct {
	Driver             string `yaml:"driver"` // postgres, sqlite
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
	LogLevel           string `yaml:"log_level"` // silent, error, warn, info
	SlowThresholdMs    int    `yaml:"slow_threshold_ms"`
}

// BlobConfig holds object storage settings.
type BlobConfig struct {
	Backend      string `yaml:"backend"` // minio, s3
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	PathStyle    bool   `yaml:"path_style"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Backend          string       `yaml:"backend"` // redis, milvus
	Class            string       `yaml:"class"`
	ReadinessTimeout int          `yaml:"readiness_timeout_sec"`
	Redis            RedisConfig  `yaml:"redis"`
	Milvus           MilvusConfig `yaml:"milvus"`
}

// RedisConfig holds Redis connection and HNSW settings.
type RedisConfig struct {
	Addrs           []string `yaml:"addrs"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	KeyPrefix       string   `yaml:"key_prefix"`
	HNSWM           int      `yaml:"hnsw_m"`
	HNSWEFConstruct int      `yaml:"hnsw_ef_construction"`
}

// MilvusConfig holds Milvus connection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// EmbeddingConfig holds embedding settings. Vectorizer selects the entry of
// Vectorizers used for both chunk and query embeddings.
type EmbeddingConfig struct {
	Vectorizer      string                      `yaml:"vectorizer"`
	Providers       map[string]ProviderConfig   `yaml:"providers"`
	Vectorizers     map[string]VectorizerConfig `yaml:"vectorizers"`
	Cache           CacheConfig                 `yaml:"cache"`
	SlowThresholdMs int                         `yaml:"slow_threshold_ms"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// VectorizerConfig holds vectorizer settings.
type VectorizerConfig struct {
	Provider            string `yaml:"provider"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	MaxInputChars       int    `yaml:"max_input_chars"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// CacheConfig controls the Redis embedding cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"`
}

// IngestionConfig controls chunking and bulk deletion.
type IngestionConfig struct {
	SentencesPerChunk int `yaml:"sentences_per_chunk"`
	Overlap           int `yaml:"overlap"`
	MaxChunkChars     int `yaml:"max_chunk_chars"`
	DeleteWorkers     int `yaml:"delete_workers"`
}

// ReconcileConfig controls orphan vector cleanup. IntervalSec 0 disables the loop.
// Rowless entries younger than GraceMinutes belong to ingests still in flight.
type ReconcileConfig struct {
	IntervalSec  int `yaml:"interval_sec"`
	BatchSize    int `yaml:"batch_size"`
	GraceMinutes int `yaml:"grace_minutes"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 50
	}

	if c.Metadata.Driver == "" {
		c.Metadata.Driver = MetadataPostgres
	}
	if c.Metadata.LogLevel == "" {
		c.Metadata.LogLevel = "warn"
	}
	if c.Metadata.SlowThresholdMs <= 0 {
		c.Metadata.SlowThresholdMs = 200
	}

	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobMinIO
	}
	if c.Blob.Bucket == "" {
		c.Blob.Bucket = "documents"
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = VectorRedis
	}
	if c.Vector.Class == "" {
		c.Vector.Class = "DocumentChunk"
	}
	if c.Vector.ReadinessTimeout <= 0 {
		c.Vector.ReadinessTimeout = 10
	}
	if c.Vector.Redis.KeyPrefix == "" {
		c.Vector.Redis.KeyPrefix = "docrag:"
	}
	if c.Vector.Redis.HNSWM <= 0 {
		c.Vector.Redis.HNSWM = 16
	}
	if c.Vector.Redis.HNSWEFConstruct <= 0 {
		c.Vector.Redis.HNSWEFConstruct = 200
	}
	if c.Vector.Milvus.TimeoutSec <= 0 {
		c.Vector.Milvus.TimeoutSec = 10
	}

	if c.Embedding.Vectorizer == "" && len(c.Embedding.Vectorizers) == 1 {
		for name := range c.Embedding.Vectorizers {
			c.Embedding.Vectorizer = name
		}
	}
	if c.Embedding.Cache.TTLHours <= 0 {
		c.Embedding.Cache.TTLHours = 24 * 7
	}
	if c.Embedding.SlowThresholdMs <= 0 {
		c.Embedding.SlowThresholdMs = 2000
	}

	if c.Ingestion.SentencesPerChunk <= 0 {
		c.Ingestion.SentencesPerChunk = 1
	}
	if c.Ingestion.DeleteWorkers <= 0 {
		c.Ingestion.DeleteWorkers = 4
	}

	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 500
	}
	if c.Reconcile.GraceMinutes <= 0 {
		c.Reconcile.GraceMinutes = 10
	}

	if c.Logging.File.Path != "" {
		if c.Logging.File.MaxSizeMB <= 0 {
			c.Logging.File.MaxSizeMB = 100
		}
		if c.Logging.File.MaxBackups <= 0 {
			c.Logging.File.MaxBackups = 5
		}
		if c.Logging.File.MaxAgeDays <= 0 {
			c.Logging.File.MaxAgeDays = 28
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Metadata.Driver {
	case MetadataPostgres, MetadataSQLite:
	default:
		return fmt.Errorf("metadata.driver must be %q or %q, got %q", MetadataPostgres, MetadataSQLite, c.Metadata.Driver)
	}
	if c.Metadata.DSN == "" {
		return errors.New("metadata.dsn is required")
	}

	switch c.Blob.Backend {
	case BlobMinIO:
		if c.Blob.Endpoint == "" {
			return errors.New("blob.endpoint is required for the minio backend")
		}
	case BlobS3:
	default:
		return fmt.Errorf("blob.backend must be %q or %q, got %q", BlobMinIO, BlobS3, c.Blob.Backend)
	}

	switch c.Vector.Backend {
	case VectorRedis:
		if len(c.Vector.Redis.Addrs) == 0 {
			return errors.New("vector.redis.addrs is required")
		}
	case VectorMilvus:
		if c.Vector.Milvus.Address == "" {
			return errors.New("vector.milvus.address is required")
		}
		if c.Embedding.Cache.Enabled {
			return errors.New("embedding.cache requires the redis vector backend")
		}
	default:
		return fmt.Errorf("vector.backend must be %q or %q, got %q", VectorRedis, VectorMilvus, c.Vector.Backend)
	}

	if err := c.Embedding.validate(); err != nil {
		return err
	}

	if c.Ingestion.Overlap < 0 || c.Ingestion.Overlap >= c.Ingestion.SentencesPerChunk {
		return fmt.Errorf("ingestion.overlap must be in [0, %d), got %d",
			c.Ingestion.SentencesPerChunk, c.Ingestion.Overlap)
	}
	if c.Reconcile.IntervalSec < 0 {
		return fmt.Errorf("reconcile.interval_sec must not be negative, got %d", c.Reconcile.IntervalSec)
	}
	return nil
}

func (e *EmbeddingConfig) validate() error {
	if e.Vectorizer == "" {
		return errors.New("embedding.vectorizer is required")
	}
	vec, ok := e.Vectorizers[e.Vectorizer]
	if !ok {
		return fmt.Errorf("embedding.vectorizers.%s is not defined", e.Vectorizer)
	}
	if _, ok := e.Providers[vec.Provider]; !ok {
		return fmt.Errorf("embedding.vectorizers.%s.provider %q is not defined", e.Vectorizer, vec.Provider)
	}
	if vec.Model == "" {
		return fmt.Errorf("embedding.vectorizers.%s.model is required", e.Vectorizer)
	}
	if vec.Dimensions <= 0 {
		return fmt.Errorf("embedding.vectorizers.%s.dimensions must be positive, got %d", e.Vectorizer, vec.Dimensions)
	}
	return nil
}

// ActiveVectorizer returns the selected vectorizer and its provider.
func (c *Config) ActiveVectorizer() (string, ProviderConfig, VectorizerConfig) {
	vec := c.Embedding.Vectorizers[c.Embedding.Vectorizer]
	return vec.Provider, c.Embedding.Providers[vec.Provider], vec
}

// Seconds converts a config integer to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a config integer to a duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file, for tests run from package dirs
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
