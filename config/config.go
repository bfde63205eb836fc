package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DSN builds the connection string the same way for the server and the loader.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type QueueConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Name       string
}

type RateLimitConfig struct {
	RedisAddr string
	RedisDB   int
	Limit     int
	Window    time.Duration
}

type EmbeddingConfig struct {
	Driver    string
	URL       string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

type LoaderConfig struct {
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
}

// Config is the infrastructure configuration read from the environment.
type Config struct {
	ServerAddr   string
	CallbackAddr string

	StoreDriver string
	Postgres    PostgresConfig

	BlobDriver string
	BlobDir    string
	S3         S3Config

	Queue     QueueConfig
	RateLimit RateLimitConfig
	Embedding EmbeddingConfig
	Loader    LoaderConfig

	MaxUploadBytes int64
	ProfilePath    string
	LogLevel       string
	LogFormat      string
}

// LoadEnv reads .env into the process environment. A missing file only means
// the variables come from the real environment.
func LoadEnv(logger *slog.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Info("no .env file loaded, using process environment", "error", err)
	}
}

// FromEnv builds a Config from environment variables, filling in defaults for
// everything that is not set. Malformed numbers and durations are errors.
func FromEnv() (Config, error) {
	e := &envReader{}
	cfg := Config{
		ServerAddr:   e.str("SERVER_ADDR", ":3000"),
		CallbackAddr: e.str("CALLBACK_ADDR", ":3001"),

		StoreDriver: e.str("STORE_DRIVER", "postgres"),
		Postgres: PostgresConfig{
			Host:     e.str("PG_HOST", "localhost"),
			Port:     e.num("PG_PORT", 5432),
			User:     e.str("PG_USER", "postgres"),
			Password: e.str("PG_PASS", ""),
			DBName:   e.str("PG_DB_NAME", "ragbase"),
		},

		BlobDriver: e.str("BLOB_DRIVER", "disk"),
		BlobDir:    e.str("BLOB_DIR", "./data/raw"),
		S3: S3Config{
			Endpoint:  e.str("S3_ENDPOINT", "localhost:9000"),
			AccessKey: e.str("S3_ACCESS_KEY", ""),
			SecretKey: e.str("S3_SECRET_KEY", ""),
			Bucket:    e.str("S3_BUCKET", "ragbase-raw"),
			UseSSL:    e.flag("S3_USE_SSL", false),
		},

		Queue: QueueConfig{
			URL:        e.str("RABBITMQ_URL", ""),
			Exchange:   e.str("QUEUE_EXCHANGE", "ragbase.extraction"),
			RoutingKey: e.str("QUEUE_ROUTING_KEY", "extraction.request"),
			Name:       e.str("QUEUE_NAME", "extraction-jobs"),
		},

		RateLimit: RateLimitConfig{
			RedisAddr: e.str("REDIS_ADDR", ""),
			RedisDB:   e.num("REDIS_DB", 0),
			Limit:     e.num("RATE_LIMIT", 60),
			Window:    e.duration("RATE_LIMIT_WINDOW", time.Minute),
		},

		Embedding: EmbeddingConfig{
			Driver:    e.str("EMBEDDING_DRIVER", "ollama"),
			URL:       e.str("OLLAMA_EMBEDDING_URL", "http://localhost:11434"),
			Model:     e.str("OLLAMA_EMBEDDING_MODEL", "all-minilm"),
			Dimension: e.num("EMBEDDING_DIM", 384),
			BatchSize: e.num("EMBEDDING_BATCH_SIZE", 32),
			Timeout:   e.duration("EMBEDDING_TIMEOUT", 60*time.Second),
		},

		Loader: LoaderConfig{
			SourceDir:      e.str("LOADER_SOURCE_DIR", "./data/inbox"),
			ArchiveDir:     e.str("LOADER_ARCHIVE_DIR", "./data/archive"),
			BadDir:         e.str("LOADER_BAD_DIR", "./data/bad"),
			MonitoringTime: e.duration("LOADER_MONITORING_TIME", 5*time.Second),
		},

		MaxUploadBytes: int64(e.num("MAX_UPLOAD_BYTES", 50<<20)),
		ProfilePath:    e.str("PIPELINE_PROFILE", "pipeline.yaml"),
		LogLevel:       e.str("LOG_LEVEL", "info"),
		LogFormat:      e.str("LOG_FORMAT", "json"),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

// envReader keeps the first parse error so FromEnv reads like a table.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) num(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) flag(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
}
