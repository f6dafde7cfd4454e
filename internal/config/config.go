package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	AI        AIConfig
	OCR       OCRConfig
	Pipeline  PipelineConfig
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"`
	MigrateOnly  bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests" validate:"gt=0"`
	WindowMinutes int `mapstructure:"window_minutes" validate:"gt=0"`
}

// AIConfig 评分模型（OpenAI 兼容的 chat/completions 接口）
type AIConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	APIKey         string `mapstructure:"api_key" validate:"required"`
	Model          string `mapstructure:"model" validate:"required"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// OCRConfig 手写识别服务配置
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint" validate:"required,url"`
	APIKey         string `mapstructure:"api_key" validate:"required"`
	Language       string `mapstructure:"language" validate:"required"`
	Engine         int    `mapstructure:"engine" validate:"oneof=1 2 3"`
	Policy         string `mapstructure:"policy" validate:"oneof=strict best_effort"`
	Concurrency    int    `mapstructure:"concurrency" validate:"gt=0"`
	MaxDimension   int    `mapstructure:"max_dimension" validate:"gte=0"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// PipelineConfig 提交流水线的限制
type PipelineConfig struct {
	MaxImages         int   `mapstructure:"max_images" validate:"gt=0"`
	MaxImageBytes     int64 `mapstructure:"max_image_bytes" validate:"gt=0"`
	TimeoutSeconds    int   `mapstructure:"timeout_seconds" validate:"gt=0"`
	// 占位锁必须比流水线超时活得久，否则超时前锁就会过期
	AttemptTTLSeconds int   `mapstructure:"attempt_ttl_seconds" validate:"gt=0,gtfield=TimeoutSeconds"`
}

func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p PipelineConfig) AttemptTTL() time.Duration {
	return time.Duration(p.AttemptTTLSeconds) * time.Second
}

type ServerConfig struct {
	Port string `validate:"required"`
	Mode string `validate:"oneof=debug release test"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Driver    string `validate:"oneof=mysql postgres"`
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"sslmode"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret" validate:"required"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type              string `mapstructure:"type" validate:"oneof=local minio oss"`
	LocalPath         string `mapstructure:"local_path"`
	PublicBaseURL     string `mapstructure:"public_base_url"`
	UploadConcurrency int    `mapstructure:"upload_concurrency" validate:"gt=0"`
	MinioEndpoint     string `mapstructure:"minio_endpoint" validate:"required_if=Type minio"`
	MinioAccessID     string `mapstructure:"minio_access_key" validate:"required_if=Type minio"`
	MinioSecret       string `mapstructure:"minio_secret_key" validate:"required_if=Type minio"`
	MinioBucket       string `mapstructure:"minio_bucket" validate:"required_if=Type minio"`
	MinioUseSSL       bool   `mapstructure:"minio_use_ssl"`
	OSSEndpoint       string `mapstructure:"oss_endpoint" validate:"required_if=Type oss"`
	OSSAccessKey      string `mapstructure:"oss_access_key" validate:"required_if=Type oss"`
	OSSSecretKey      string `mapstructure:"oss_secret_key" validate:"required_if=Type oss"`
	OSSBucket         string `mapstructure:"oss_bucket" validate:"required_if=Type oss"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled 未配置 Host 时流水线使用进程内的提交锁
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("jwt.expire_hours", 24)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")
	v.SetDefault("storage.upload_concurrency", 4)

	v.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("ai.model", "gemini-1.5-flash")
	v.SetDefault("ai.timeout_seconds", 60)

	v.SetDefault("ocr.endpoint", "https://api.ocr.space/parse/image")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.engine", 2)
	v.SetDefault("ocr.policy", "strict")
	v.SetDefault("ocr.concurrency", 4)
	v.SetDefault("ocr.max_dimension", 2000)
	v.SetDefault("ocr.timeout_seconds", 60)

	v.SetDefault("pipeline.max_images", 10)
	v.SetDefault("pipeline.max_image_bytes", 10*1024*1024)
	v.SetDefault("pipeline.timeout_seconds", 300)
	v.SetDefault("pipeline.attempt_ttl_seconds", 600)

	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("HOMEWORK_EVAL")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// AI
	v.BindEnv("ai.base_url", "AI_BASE_URL")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.model", "AI_MODEL")

	// OCR
	v.BindEnv("ocr.endpoint", "OCR_ENDPOINT")
	v.BindEnv("ocr.api_key", "OCR_API_KEY")
	v.BindEnv("ocr.policy", "OCR_POLICY")

	// Storage / OSS
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.public_base_url", "STORAGE_PUBLIC_BASE_URL")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 凭据缺失在启动时暴露，而不是等到第一次提交
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}
