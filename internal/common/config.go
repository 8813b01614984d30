package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is used for keys without an explicit env binding.
const EnvPrefix = "INVOICE"

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	NLP      NLPConfig      `mapstructure:"nlp"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds task-store configuration. Driver is memory, sqlite or postgres.
type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	APIKey          string        `mapstructure:"api_key"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"` // gin mode
}

// OCRConfig holds text-recognition configuration
type OCRConfig struct {
	Tesseract     string `mapstructure:"tesseract"`
	TesseractLang string `mapstructure:"tesseract_lang"`
	TessdataDir   string `mapstructure:"tessdata_dir"`
	PSM           int    `mapstructure:"psm"`
	OEM           int    `mapstructure:"oem"`
	CacheSize     int    `mapstructure:"cache_size"`
	Preprocess    bool   `mapstructure:"preprocess"`
	MaxImageWidth int    `mapstructure:"max_image_width"`
	MaxPages      int    `mapstructure:"max_pages"`
}

// NLPConfig holds field-tagging model configuration. An empty APIKey disables the tagger.
type NLPConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds coordinator and worker-pool configuration
type PipelineConfig struct {
	Workers              int           `mapstructure:"workers"`
	QueueSize            int           `mapstructure:"queue_size"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	RetryMaxAttempts     int           `mapstructure:"retry_max_attempts"`
	RetryInitialBackoff  time.Duration `mapstructure:"retry_initial_backoff"`
	RetryMaxBackoff      time.Duration `mapstructure:"retry_max_backoff"`
	Retention            time.Duration `mapstructure:"retention"`
	JanitorInterval      time.Duration `mapstructure:"janitor_interval"`
	LongRunningThreshold time.Duration `mapstructure:"long_running_threshold"`
	DefaultCurrency      string        `mapstructure:"default_currency"`
	DayFirst             bool          `mapstructure:"day_first"`
	MaxArchiveDepth      int           `mapstructure:"max_archive_depth"`
}

// AnomalyConfig holds anomaly heuristics configuration
type AnomalyConfig struct {
	StdDevThreshold float64 `mapstructure:"stddev_threshold"`
	MinBatchSize    int     `mapstructure:"min_batch_size"`
}

// StorageConfig selects where export blobs live. Backend is memory or s3.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Prefix       string `mapstructure:"prefix"`
	CreateBucket bool   `mapstructure:"create_bucket"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings keeps the flat environment names used by deployments.
var envBindings = map[string]string{
	"database.driver":             "DB_DRIVER",
	"database.dsn":                "DB_URL",
	"database.max_conns":          "DB_MAX_CONNS",
	"database.min_conns":          "DB_MIN_CONNS",
	"database.max_conn_lifetime":  "DB_MAX_CONN_LIFETIME",
	"database.max_conn_idle_time": "DB_MAX_CONN_IDLE_TIME",
	"database.dial_timeout":       "DB_DIAL_TIMEOUT",
	"database.statement_timeout":  "DB_STATEMENT_TIMEOUT",
	"server.http_addr":            "HTTP_ADDR",
	"server.grpc_addr":            "GRPC_ADDR",
	"server.api_key":              "X_API_KEY",
	"ocr.tesseract":               "TESSERACT_BIN",
	"ocr.tesseract_lang":          "TESSERACT_LANG",
	"ocr.tessdata_dir":            "TESSDATA_PREFIX",
	"nlp.base_url":                "OPENAI_BASE_URL",
	"nlp.model":                   "OPENAI_MODEL",
	"nlp.api_key":                 "OPENAI_API_KEY",
	"nlp.temperature":             "OPENAI_TEMPERATURE",
	"nlp.timeout":                 "OPENAI_TIMEOUT",
	"pipeline.workers":            "MAX_WORKERS",
	"pipeline.retention":          "TASK_RETENTION",
	"storage.backend":             "STORAGE_BACKEND",
	"storage.endpoint":            "S3_ENDPOINT",
	"storage.region":              "S3_REGION",
	"storage.bucket":              "S3_BUCKET",
	"storage.access_key":          "S3_ACCESS_KEY",
	"storage.secret_key":          "S3_SECRET_KEY",
	"storage.use_ssl":             "S3_USE_SSL",
	"log.level":                   "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.max_upload_bytes", int64(100<<20))
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.tesseract_lang", "eng")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.cache_size", 512)
	v.SetDefault("ocr.preprocess", true)
	v.SetDefault("ocr.max_image_width", 2480)
	v.SetDefault("ocr.max_pages", 50)

	v.SetDefault("nlp.base_url", "https://api.openai.com/v1")
	v.SetDefault("nlp.model", "gpt-4o-mini")
	v.SetDefault("nlp.timeout", 45*time.Second)

	v.SetDefault("pipeline.workers", 5)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.job_timeout", 3*time.Minute)
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_initial_backoff", 500*time.Millisecond)
	v.SetDefault("pipeline.retry_max_backoff", 5*time.Second)
	v.SetDefault("pipeline.retention", 24*time.Hour)
	v.SetDefault("pipeline.janitor_interval", 5*time.Minute)
	v.SetDefault("pipeline.long_running_threshold", 7*time.Minute)
	v.SetDefault("pipeline.default_currency", "USD")
	v.SetDefault("pipeline.max_archive_depth", 2)

	v.SetDefault("anomaly.stddev_threshold", 2.0)
	v.SetDefault("anomaly.min_batch_size", 5)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.prefix", "results")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig loads configuration from defaults, an optional YAML file and the environment.
// An empty path searches ./invoice.yaml and /etc/invoice-extractor/; a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("invoice")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/invoice-extractor")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("database.driver", c.Database.Driver, OneOf("memory", "sqlite", "postgres")).
		Field("storage.backend", c.Storage.Backend, OneOf("memory", "s3")).
		Field("server.http_addr", c.Server.HTTPAddr, Required).
		Field("server.grpc_addr", c.Server.GRPCAddr, Required).
		Field("pipeline.workers", c.Pipeline.Workers, Positive).
		Field("pipeline.retry_max_attempts", c.Pipeline.RetryMaxAttempts, Positive).
		Field("pipeline.default_currency", c.Pipeline.DefaultCurrency, CurrencyCode).
		Field("anomaly.min_batch_size", c.Anomaly.MinBatchSize, Positive).
		Field("anomaly.stddev_threshold", c.Anomaly.StdDevThreshold, Positive)
	if c.Database.Driver != "memory" {
		v.Field("database.dsn", c.Database.DSN, Required)
	}
	if c.Storage.Backend == "s3" {
		v.Field("storage.bucket", c.Storage.Bucket, Required)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
