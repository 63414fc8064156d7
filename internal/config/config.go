package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	APIPort            string `yaml:"api_port"`
	WorkerEnabled      bool   `yaml:"worker_enabled"`
	BackendAPIKey      string `yaml:"backend_api_key"`      // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string `yaml:"cors_allowed_origins"` // Comma-separated allowed origins (empty = *, dev mode)
	PublicBaseURL      string `yaml:"public_base_url"`      // Prefix for media URLs written into payloads (empty = relative)

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Redis
	RedisURL string `yaml:"redis_url"`

	// Supabase (optional: payloads are only uploaded when configured)
	SupabaseURL           string `yaml:"supabase_url"`
	SupabaseServiceKey    string `yaml:"supabase_service_key"`
	SupabaseStorageBucket string `yaml:"supabase_storage_bucket"`
	SupabaseSignedURLTTL  int    `yaml:"supabase_signed_url_ttl"` // seconds; 0 = public bucket

	// Song library and local media
	DataDir  string `yaml:"data_dir"`  // formats/, slots/, clip-index/, media/
	CacheDir string `yaml:"cache_dir"` // download cache (empty = temp dir)

	// Downloads
	DownloadCapBytes    int64 `yaml:"download_cap_bytes"`
	DownloadConcurrency int   `yaml:"download_concurrency"`

	// Timeline
	LeadInFrames    int    `yaml:"lead_in_frames"`
	BackgroundColor string `yaml:"background_color"`
	AspectRatio     string `yaml:"aspect_ratio"`

	// Worker
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
}

func defaults() *Config {
	return &Config{
		APIPort:               "8080",
		WorkerEnabled:         true,
		RedisURL:              "redis://localhost:6379",
		SupabaseStorageBucket: "beatcut-edits",
		DataDir:               "data",
		DownloadCapBytes:      2 << 30,
		DownloadConcurrency:   4,
		LeadInFrames:          0,
		BackgroundColor:       "#000000",
		AspectRatio:           "9:16",
		MaxConcurrentJobs:     2,
	}
}

// Load reads the service configuration and checks what the API server needs.
func Load() (*Config, error) {
	cfg, err := LoadLocal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocal reads the configuration without requiring the database or
// queue, for offline tools.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// BEATCUT_CONFIG, environment variables (including .env).
func LoadLocal() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("BEATCUT_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.APIPort = getEnv("API_PORT", cfg.APIPort)
	cfg.WorkerEnabled = getEnvBool("WORKER_ENABLED", cfg.WorkerEnabled)
	cfg.BackendAPIKey = getEnv("BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.CorsAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.CorsAllowedOrigins)
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.SupabaseURL = getEnv("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", cfg.SupabaseServiceKey)
	cfg.SupabaseStorageBucket = getEnv("SUPABASE_STORAGE_BUCKET", cfg.SupabaseStorageBucket)
	cfg.SupabaseSignedURLTTL = getEnvInt("SUPABASE_SIGNED_URL_TTL", cfg.SupabaseSignedURLTTL)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.DownloadCapBytes = getEnvInt64("DOWNLOAD_CAP_BYTES", cfg.DownloadCapBytes)
	cfg.DownloadConcurrency = getEnvInt("DOWNLOAD_CONCURRENCY", cfg.DownloadConcurrency)
	cfg.LeadInFrames = getEnvInt("LEAD_IN_FRAMES", cfg.LeadInFrames)
	cfg.BackgroundColor = getEnv("BACKGROUND_COLOR", cfg.BackgroundColor)
	cfg.AspectRatio = getEnv("ASPECT_RATIO", cfg.AspectRatio)
	cfg.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs)

	if cfg.DownloadCapBytes <= 0 {
		return nil, fmt.Errorf("DOWNLOAD_CAP_BYTES must be positive")
	}
	if cfg.DownloadConcurrency <= 0 {
		return nil, fmt.Errorf("DOWNLOAD_CONCURRENCY must be positive")
	}
	if cfg.LeadInFrames < 0 {
		return nil, fmt.Errorf("LEAD_IN_FRAMES must not be negative")
	}
	if cfg.SupabaseSignedURLTTL < 0 {
		return nil, fmt.Errorf("SUPABASE_SIGNED_URL_TTL must not be negative")
	}

	return cfg, nil
}

// Validate checks the settings the API server cannot run without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be positive")
	}
	return nil
}

// StorageEnabled reports whether payloads should be uploaded to Supabase.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
