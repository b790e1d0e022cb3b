package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	once   sync.Once
	config *Config
)

// Config 全局配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Extraction ExtractionConfig `yaml:"extraction"`
	AltText    AltTextConfig    `yaml:"altText"`
	Queue      QueueConfig      `yaml:"queue"`
	AI         AIConfig         `yaml:"ai"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// ImageURLPrefix is prepended to "<sid>/<name>" for thumbnails in the copy panel.
	ImageURLPrefix string `yaml:"imageUrlPrefix"`
}

type SessionsConfig struct {
	Dir         string        `yaml:"dir"`
	TTL         time.Duration `yaml:"ttl"`
	MaxUploadMB int64         `yaml:"maxUploadMB"`
}

type ExtractionConfig struct {
	SoftMemLimitMB int     `yaml:"softMemLimitMB"`
	RenderScale    float64 `yaml:"renderScale"`
	MinScale       float64 `yaml:"minScale"`
	MaxBBoxPixels  int64   `yaml:"maxBBoxPixels"`
	MemLogEvery    int     `yaml:"memLogEvery"`
}

type AltTextConfig struct {
	Workers      int           `yaml:"workers"`
	MaxDimension int           `yaml:"maxDimension"`
	MaxTokens    int           `yaml:"maxTokens"`
	Attempts     int           `yaml:"attempts"`
	BackoffMin   time.Duration `yaml:"backoffMin"`
	BackoffMax   time.Duration `yaml:"backoffMax"`
	Multiplier   float64       `yaml:"multiplier"`
}

type QueueConfig struct {
	PoolSize  int           `yaml:"poolSize"`
	StatusTTL time.Duration `yaml:"statusTTL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

// GetConfig 从项目根目录的 .env 和环境变量加载配置
func GetConfig() *Config {
	once.Do(func() {
		// 获取当前文件的目录
		_, filename, _, _ := runtime.Caller(0)
		rootDir := filepath.Dir(filepath.Dir(filename))
		envPath := filepath.Join(rootDir, ".env")

		cfg, err := Load(envPath, os.Getenv("CONFIG_FILE"))
		if err != nil {
			log.Printf("Warning: %v, using defaults and environment variables", err)
			cfg, _ = Load("", "")
		}
		config = cfg
	})
	return config
}

// Load builds a Config from defaults, an optional YAML file and the environment.
// A missing .env is not an error.
func Load(envPath, yamlPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	}

	cfg := Default()
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			ImageURLPrefix:  "/api/v1/sessions",
		},
		Sessions: SessionsConfig{
			Dir:         "data/sessions",
			TTL:         6 * time.Hour,
			MaxUploadMB: 150,
		},
		Extraction: ExtractionConfig{
			SoftMemLimitMB: 1700,
			RenderScale:    1.0,
			MinScale:       0.4,
			MaxBBoxPixels:  50_000_000,
			MemLogEvery:    8,
		},
		AltText: AltTextConfig{
			Workers:      4,
			MaxDimension: 1024,
			MaxTokens:    150,
			Attempts:     3,
			BackoffMin:   4 * time.Second,
			BackoffMax:   10 * time.Second,
			Multiplier:   1,
		},
		Queue: QueueConfig{
			PoolSize:  4,
			StatusTTL: 24 * time.Hour,
		},
		AI: defaultAI(),
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.ImageURLPrefix = getEnv("IMAGE_URL_PREFIX", c.Server.ImageURLPrefix)

	c.Sessions.Dir = getEnv("SESSIONS_DIR", c.Sessions.Dir)
	c.Sessions.TTL = getEnvDuration("SESSION_TTL", c.Sessions.TTL)
	c.Sessions.MaxUploadMB = int64(getEnvInt("MAX_UPLOAD_MB", int(c.Sessions.MaxUploadMB)))

	c.Extraction.SoftMemLimitMB = getEnvInt("SOFT_MEM_LIMIT_MB", c.Extraction.SoftMemLimitMB)
	c.Extraction.RenderScale = getEnvFloat("RENDER_SCALE", c.Extraction.RenderScale)
	c.Extraction.MaxBBoxPixels = int64(getEnvInt("MAX_BBOX_PIXELS", int(c.Extraction.MaxBBoxPixels)))
	c.Extraction.MemLogEvery = getEnvInt("MEM_LOG_EVERY", c.Extraction.MemLogEvery)

	// constrained hosting gets a smaller pool unless told otherwise
	if getEnvBool("RENDER", false) {
		c.AltText.Workers = 2
	}
	c.AltText.Workers = getEnvInt("MAX_ALT_TEXT_WORKERS", c.AltText.Workers)
	c.AltText.Attempts = getEnvInt("ALT_TEXT_ATTEMPTS", c.AltText.Attempts)

	c.Queue.PoolSize = getEnvInt("JOB_POOL_SIZE", c.Queue.PoolSize)
	if os.Getenv("RENDER_DEBUG_SERIAL") == "1" {
		c.Queue.PoolSize = 1
	}

	c.AI.applyEnv()
	c.Storage.applyEnv()

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("LOG_ENCODING", c.Log.Encoding)
	c.Log.OutputPaths = getEnvList("LOG_OUTPUT_PATHS", c.Log.OutputPaths)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Sessions.Dir == "":
		return fmt.Errorf("sessions dir is required")
	case c.Extraction.RenderScale <= 0:
		return fmt.Errorf("render scale must be positive, got %v", c.Extraction.RenderScale)
	case c.Extraction.MinScale <= 0 || c.Extraction.MinScale > c.Extraction.RenderScale:
		return fmt.Errorf("min scale must be in (0, %v], got %v", c.Extraction.RenderScale, c.Extraction.MinScale)
	case c.AltText.Workers < 1:
		return fmt.Errorf("alt text workers must be at least 1, got %d", c.AltText.Workers)
	case c.AltText.Attempts < 1:
		return fmt.Errorf("alt text attempts must be at least 1, got %d", c.AltText.Attempts)
	case c.Queue.PoolSize < 1:
		return fmt.Errorf("job pool size must be at least 1, got %d", c.Queue.PoolSize)
	}
	return c.Storage.validate()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
