// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ストレージバックエンド。
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port               string        `mapstructure:"port"`                 // APIサーバーのポート番号
	GinMode            string        `mapstructure:"gin_mode"`             // Ginの実行モード (debug, release, test)
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"` // CORS許可オリジン（カンマ区切り）
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`

	// ログ設定
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // console or json

	// BabelDOC 設定
	BabeldocPath            string        `mapstructure:"babeldoc_path"`
	BabeldocProbeTimeout    time.Duration `mapstructure:"babeldoc_probe_timeout"`
	BabeldocRecheckInterval time.Duration `mapstructure:"babeldoc_recheck_interval"`
	OpenAIAPIKey            string        `mapstructure:"openai_api_key"`
	OpenAIBaseURL           string        `mapstructure:"openai_base_url"`
	OpenAIModel             string        `mapstructure:"openai_model"`

	// タイムアウト・制限
	PageTimeout     time.Duration `mapstructure:"page_timeout"`
	DocumentTimeout time.Duration `mapstructure:"document_timeout"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxInputBytes   int64         `mapstructure:"max_input_bytes"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`

	// コールバック設定
	CallbackTimeout        time.Duration `mapstructure:"callback_timeout"`
	VercelProtectionBypass string        `mapstructure:"vercel_protection_bypass"`

	// ストレージ設定
	StorageBackend     string `mapstructure:"storage_backend"`
	S3Bucket           string `mapstructure:"s3_bucket"`
	AWSRegion          string `mapstructure:"aws_region"`
	S3Endpoint         string `mapstructure:"s3_endpoint"`
	S3ForcePathStyle   bool   `mapstructure:"s3_force_path_style"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	LocalStorageDir    string `mapstructure:"local_storage_dir"`
	PublicBaseURL      string `mapstructure:"public_base_url"` // 成果物URLのベース（未指定時は自動）
	CacheKeyPrefix     string `mapstructure:"cache_key_prefix"`
	WorkDir            string `mapstructure:"work_dir"` // 作業ディレクトリのルート（空の場合はOSの一時ディレクトリ）

	// ジョブ/キュー設定
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	MaxPendingJobs    int           `mapstructure:"max_pending_jobs"`
	QueueRedisURL     string        `mapstructure:"queue_redis_url"` // 設定時は Asynq を使用
	JobRetention      time.Duration `mapstructure:"job_retention"`   // 0 の場合は削除しない
	JobSweepInterval  time.Duration `mapstructure:"job_sweep_interval"`
}

// defaults は環境変数名と既定値の一覧です。
var defaults = map[string]any{
	"PORT":                      "8080",
	"GIN_MODE":                  "debug",
	"CORS_ALLOWED_ORIGINS":      "*",
	"SHUTDOWN_TIMEOUT":          "30s",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "console",
	"BABELDOC_PATH":             "babeldoc",
	"BABELDOC_PROBE_TIMEOUT":    "30s",
	"BABELDOC_RECHECK_INTERVAL": "30s",
	"OPENAI_API_KEY":            "",
	"OPENAI_BASE_URL":           "https://api.deepseek.com/v1",
	"OPENAI_MODEL":              "deepseek-chat",
	"PAGE_TIMEOUT":              "10m",
	"DOCUMENT_TIMEOUT":          "60m",
	"FETCH_TIMEOUT":             "5m",
	"MAX_INPUT_BYTES":           int64(200 << 20),
	"UPLOAD_TIMEOUT":            "5m",
	"CALLBACK_TIMEOUT":          "30s",
	"VERCEL_PROTECTION_BYPASS":  "",
	"STORAGE_BACKEND":           StorageS3,
	"S3_BUCKET":                 "",
	"AWS_REGION":                "ap-southeast-1",
	"S3_ENDPOINT":               "",
	"S3_FORCE_PATH_STYLE":       false,
	"AWS_ACCESS_KEY_ID":         "",
	"AWS_SECRET_ACCESS_KEY":     "",
	"LOCAL_STORAGE_DIR":         "./data/artifacts",
	"PUBLIC_BASE_URL":           "",
	"CACHE_KEY_PREFIX":          "books",
	"WORK_DIR":                  "",
	"MAX_CONCURRENT_JOBS":       4,
	"MAX_PENDING_JOBS":          64,
	"QUEUE_REDIS_URL":           "",
	"JOB_RETENTION":             "0s",
	"JOB_SWEEP_INTERVAL":        "10m",
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	v := viper.New()
	for env, value := range defaults {
		key := strings.ToLower(env)
		v.SetDefault(key, value)
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	// 必須設定のバリデーション
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

func (c *Config) normalize() {
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.GinMode = strings.TrimSpace(c.GinMode)
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if c.StorageBackend == StorageLocal && c.PublicBaseURL == "" {
		c.PublicBaseURL = fmt.Sprintf("http://localhost:%s/files", c.Port)
	}
}

// IsRelease は本番モードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// AllowedOrigins は CORS 許可オリジンを返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// UsesQueue は Asynq ランチャーを使うかどうかを返します。
func (c *Config) UsesQueue() bool {
	return strings.TrimSpace(c.QueueRedisURL) != ""
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageS3, StorageLocal:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageS3, StorageLocal, c.StorageBackend)
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be >= 1")
	}
	if c.MaxPendingJobs < 0 {
		return fmt.Errorf("MAX_PENDING_JOBS must be >= 0")
	}
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("MAX_INPUT_BYTES must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"PAGE_TIMEOUT":     c.PageTimeout,
		"DOCUMENT_TIMEOUT": c.DocumentTimeout,
		"FETCH_TIMEOUT":    c.FetchTimeout,
		"UPLOAD_TIMEOUT":   c.UploadTimeout,
		"CALLBACK_TIMEOUT": c.CallbackTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.JobRetention < 0 {
		return fmt.Errorf("JOB_RETENTION must not be negative")
	}

	// ローカル開発では API キー等は任意
	if c.IsRelease() {
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in release mode")
		}
		if c.StorageBackend == StorageS3 && c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required in release mode")
		}
	}

	return nil
}
