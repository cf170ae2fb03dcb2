package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the nshare service
type Config struct {
	Port int `json:"port"`

	// Storage backend: memory, redis, mongodb, dynamodb, s3
	Storage string `json:"storage"`

	// Expiry and size policy
	DefaultTTL    time.Duration `json:"default_ttl"`
	UploadTTL     time.Duration `json:"upload_ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
	SweepMinGap   time.Duration `json:"sweep_min_gap"`
	MaxFileSize   int64         `json:"max_file_size"`
	MaxTotalSize  int64         `json:"max_total_size"`
	MaxFiles      int           `json:"max_files"`
	ChunkSize     int64         `json:"chunk_size"`

	// HTTP surface
	RateLimit      string `json:"rate_limit"`
	CORSOrigins    string `json:"cors_origins"`
	TrustedProxies string `json:"trusted_proxies"`

	// Redis
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	// MongoDB
	MongoDBURI      string `json:"mongodb_uri"`
	MongoDBDatabase string `json:"mongodb_database"`

	// AWS
	AWSRegion     string `json:"aws_region"`
	DynamoDBTable string `json:"dynamodb_table"`
	S3Bucket      string `json:"s3_bucket"`
	S3Prefix      string `json:"s3_prefix"`
	S3Endpoint    string `json:"s3_endpoint"`
	S3PathStyle   bool   `json:"s3_path_style"`

	// Operational
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	EnableMetrics bool   `json:"enable_metrics"`

	Version    string `json:"version"`
	BuildTime  string `json:"build_time"`
	CommitHash string `json:"commit_hash"`
}

// Storage backend names
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageMongoDB  = "mongodb"
	StorageDynamoDB = "dynamodb"
	StorageS3       = "s3"
)

const mb = 1024 * 1024

// DefaultConfig returns a configuration with the service defaults
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		Storage:         StorageMemory,
		DefaultTTL:      30 * time.Minute,
		UploadTTL:       30 * time.Minute,
		SweepInterval:   time.Minute,
		MaxFileSize:     500 * mb,
		MaxTotalSize:    500 * mb,
		MaxFiles:        20,
		ChunkSize:       3 * mb,
		CORSOrigins:     "*",
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "nshare:",
		MongoDBURI:      "mongodb://localhost:27017",
		MongoDBDatabase: "nshare",
		AWSRegion:       "us-east-1",
		DynamoDBTable:   "nshare-pastes",
		LogLevel:        "info",
		EnableMetrics:   true,
	}
}

// LoadConfig loads configuration from an optional .env file, environment
// variables and CLI flags. Environment variables provide the flag defaults, so
// an explicit flag always wins.
func LoadConfig() (*Config, error) {
	return loadConfig(flag.CommandLine, os.Args[1:])
}

func loadConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	// A missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg := DefaultConfig()

	fs.IntVar(&cfg.Port, "port", getEnvInt("NSHARE_PORT", cfg.Port), "Port to listen on")
	fs.StringVar(&cfg.Storage, "storage", getEnvString("NSHARE_STORAGE", cfg.Storage), "Storage backend: memory, redis, mongodb, dynamodb, s3")

	fs.DurationVar(&cfg.DefaultTTL, "ttl", getEnvDuration("NSHARE_DEFAULT_TTL", cfg.DefaultTTL), "Default paste expiration")
	fs.DurationVar(&cfg.UploadTTL, "upload-ttl", getEnvDuration("NSHARE_UPLOAD_TTL", cfg.UploadTTL), "Lifetime of a chunked upload session")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", getEnvDuration("NSHARE_SWEEP_INTERVAL", cfg.SweepInterval), "Background sweep interval (0 disables)")
	fs.DurationVar(&cfg.SweepMinGap, "sweep-min-gap", getEnvDuration("NSHARE_SWEEP_MIN_GAP", cfg.SweepMinGap), "Minimum gap between request-triggered sweeps")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", getEnvInt64("NSHARE_MAX_FILE_SIZE", cfg.MaxFileSize), "Maximum decoded size of a single file in bytes")
	fs.Int64Var(&cfg.MaxTotalSize, "max-total-size", getEnvInt64("NSHARE_MAX_TOTAL_SIZE", cfg.MaxTotalSize), "Maximum decoded size of a file batch in bytes")
	fs.IntVar(&cfg.MaxFiles, "max-files", getEnvInt("NSHARE_MAX_FILES", cfg.MaxFiles), "Maximum number of files in a batch")
	fs.Int64Var(&cfg.ChunkSize, "chunk-size", getEnvInt64("NSHARE_CHUNK_SIZE", cfg.ChunkSize), "Chunk size for chunked uploads in bytes")

	fs.StringVar(&cfg.RateLimit, "rate-limit", getEnvString("NSHARE_RATE_LIMIT", cfg.RateLimit), "Per-IP rate limit (e.g. 60/min, empty disables)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", getEnvString("NSHARE_CORS_ORIGINS", cfg.CORSOrigins), "Comma-separated allowed CORS origins")
	fs.StringVar(&cfg.TrustedProxies, "trusted-proxies", getEnvString("NSHARE_TRUSTED_PROXIES", cfg.TrustedProxies), "Comma-separated proxy IPs or CIDRs whose X-Forwarded-For is trusted (empty trusts none)")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnvString("NSHARE_REDIS_ADDR", cfg.RedisAddr), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnvString("NSHARE_REDIS_PASSWORD", cfg.RedisPassword), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("NSHARE_REDIS_DB", cfg.RedisDB), "Redis database index")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", getEnvString("NSHARE_REDIS_PREFIX", cfg.RedisPrefix), "Redis key prefix")

	fs.StringVar(&cfg.MongoDBURI, "mongodb-uri", getEnvString("NSHARE_MONGODB_URI", cfg.MongoDBURI), "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDBDatabase, "mongodb-database", getEnvString("NSHARE_MONGODB_DATABASE", cfg.MongoDBDatabase), "MongoDB database name")

	fs.StringVar(&cfg.AWSRegion, "aws-region", getEnvString("NSHARE_AWS_REGION", cfg.AWSRegion), "AWS region for dynamodb and s3")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", getEnvString("NSHARE_DYNAMODB_TABLE", cfg.DynamoDBTable), "DynamoDB table name")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", getEnvString("NSHARE_S3_BUCKET", cfg.S3Bucket), "S3 bucket")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", getEnvString("NSHARE_S3_PREFIX", cfg.S3Prefix), "S3 key prefix")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnvString("NSHARE_S3_ENDPOINT", cfg.S3Endpoint), "Custom S3 endpoint (MinIO and other S3-compatible stores)")
	fs.BoolVar(&cfg.S3PathStyle, "s3-path-style", getEnvBool("NSHARE_S3_PATH_STYLE", cfg.S3PathStyle), "Use path-style S3 addressing")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnvString("NSHARE_LOG_LEVEL", cfg.LogLevel), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", getEnvString("NSHARE_LOG_FILE", cfg.LogFile), "Path to a rotated log file")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", getEnvBool("NSHARE_ENABLE_METRICS", cfg.EnableMetrics), "Expose Prometheus metrics on /metrics")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Storage {
	case StorageMemory, StorageRedis, StorageMongoDB, StorageDynamoDB, StorageS3:
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: memory, redis, mongodb, dynamodb, s3)", c.Storage)
	}

	if c.Storage == StorageS3 && c.S3Bucket == "" {
		return fmt.Errorf("s3 storage requires a bucket")
	}

	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default ttl must be positive: %v", c.DefaultTTL)
	}
	if c.UploadTTL <= 0 {
		return fmt.Errorf("upload ttl must be positive: %v", c.UploadTTL)
	}
	if c.SweepInterval < 0 || c.SweepMinGap < 0 {
		return fmt.Errorf("sweep intervals cannot be negative")
	}

	if c.MaxFileSize <= 0 || c.MaxTotalSize <= 0 {
		return fmt.Errorf("size limits must be positive")
	}
	if c.MaxFiles < 1 {
		return fmt.Errorf("max files must be at least 1: %d", c.MaxFiles)
	}

	// Chunks are base64-encoded independently on the client; only a multiple
	// of 3 bytes encodes without padding so the pieces concatenate cleanly.
	if c.ChunkSize <= 0 || c.ChunkSize%3 != 0 {
		return fmt.Errorf("chunk size must be a positive multiple of 3: %d", c.ChunkSize)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// TrustedProxyList splits TrustedProxies into addresses; nil trusts no proxy
func (c *Config) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Per-record ceilings on the decoded payload of backends that keep a paste in
// a single item. Base64 inflates content by 4/3 and the remainder of the item
// holds metadata: DynamoDB items stop at 400 KB, BSON documents at 16 MB.
const (
	dynamoDBPayloadCeiling = 256 * 1024
	mongoDBPayloadCeiling  = 11 * mb
)

// StorageCeiling returns the largest decoded payload the configured backend
// can hold in one paste, or 0 when it is bounded only by the size limits.
func (c *Config) StorageCeiling() int64 {
	switch c.Storage {
	case StorageDynamoDB:
		return dynamoDBPayloadCeiling
	case StorageMongoDB:
		return mongoDBPayloadCeiling
	}
	return 0
}

// ClampSizeLimits lowers MaxFileSize and MaxTotalSize to the backend ceiling
// and reports whether anything changed.
func (c *Config) ClampSizeLimits() bool {
	ceiling := c.StorageCeiling()
	if ceiling == 0 {
		return false
	}
	clamped := false
	if c.MaxFileSize > ceiling {
		c.MaxFileSize = ceiling
		clamped = true
	}
	if c.MaxTotalSize > ceiling {
		c.MaxTotalSize = ceiling
		clamped = true
	}
	return clamped
}

// MaxChunks returns the largest chunk count a single upload may declare
func (c *Config) MaxChunks() int {
	return int((c.MaxFileSize + c.ChunkSize - 1) / c.ChunkSize)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
