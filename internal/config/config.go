package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the service's environment variables (HEALTH_DIARY_SERVER_PORT, ...).
const EnvPrefix = "HEALTH_DIARY"

// Config holds all service settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	AI       AIConfig       `mapstructure:"ai"`
	Trends   TrendsConfig   `mapstructure:"trends"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Timezone string         `mapstructure:"timezone"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path   string `mapstructure:"path"`
	Silent bool   `mapstructure:"silent"`
}

// EngineConfig tunes the follow-up rule engine.
type EngineConfig struct {
	Threshold       int    `mapstructure:"threshold"`
	MaxQuestions    int    `mapstructure:"max_questions"`
	ContextTriggers bool   `mapstructure:"context_triggers"`
	CatalogPath     string `mapstructure:"catalog_path"`
}

// AIConfig configures the optional follow-up suggester. Primary is tried first; Fallback is
// used when the primary fails or has no key.
type AIConfig struct {
	Disabled          bool           `mapstructure:"disabled"`
	Primary           ProviderConfig `mapstructure:"primary"`
	Fallback          ProviderConfig `mapstructure:"fallback"`
	RequestsPerMinute int            `mapstructure:"requests_per_minute"`
	Retries           int            `mapstructure:"retries"`
}

type ProviderConfig struct {
	Name        string        `mapstructure:"name"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TrendsConfig controls the snapshot refresh job. An empty RefreshCron disables it.
type TrendsConfig struct {
	RefreshCron    string `mapstructure:"refresh_cron"`
	RefreshOnStart bool   `mapstructure:"refresh_on_start"`
}

type SessionsConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	SweepCron string        `mapstructure:"sweep_cron"`
}

// Load reads defaults, then the optional YAML file at configPath, then HEALTH_DIARY_*
// variables, then the well-known provider variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath = strings.TrimSpace(configPath); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Location resolves Timezone, UTC when empty.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("database.path", "data/health-diary.db")
	v.SetDefault("database.silent", true)

	v.SetDefault("engine.threshold", 6)
	v.SetDefault("engine.max_questions", 6)
	v.SetDefault("engine.context_triggers", false)
	v.SetDefault("engine.catalog_path", "")

	v.SetDefault("ai.disabled", false)
	v.SetDefault("ai.requests_per_minute", 20)
	v.SetDefault("ai.retries", 3)
	v.SetDefault("ai.primary.name", "deepseek")
	v.SetDefault("ai.primary.api_key", "")
	v.SetDefault("ai.primary.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("ai.primary.model", "deepseek-chat")
	v.SetDefault("ai.primary.temperature", 0.3)
	v.SetDefault("ai.primary.max_tokens", 600)
	v.SetDefault("ai.primary.timeout", "30s")
	v.SetDefault("ai.fallback.name", "openai")
	v.SetDefault("ai.fallback.api_key", "")
	v.SetDefault("ai.fallback.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.fallback.model", "gpt-4o-mini")
	v.SetDefault("ai.fallback.temperature", 0.3)
	v.SetDefault("ai.fallback.max_tokens", 600)
	v.SetDefault("ai.fallback.timeout", "30s")

	v.SetDefault("trends.refresh_cron", "@every 1h")
	v.SetDefault("trends.refresh_on_start", true)

	v.SetDefault("sessions.ttl", "2h")
	v.SetDefault("sessions.sweep_cron", "@every 10m")

	v.SetDefault("timezone", "")
}

// loadEnvOverrides honours the provider variables commonly set outside this service.
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
		return fallback
	}

	if cfg.AI.Primary.APIKey == "" {
		cfg.AI.Primary.APIKey = getEnv("DEEPSEEK_API_KEY", "")
		cfg.AI.Primary.Model = getEnv("DEEPSEEK_MODEL", cfg.AI.Primary.Model)
		cfg.AI.Primary.BaseURL = getEnv("DEEPSEEK_BASE_URL", cfg.AI.Primary.BaseURL)
	}
	if cfg.AI.Fallback.APIKey == "" {
		cfg.AI.Fallback.APIKey = getEnv("OPENAI_API_KEY", "")
		cfg.AI.Fallback.Model = getEnv("OPENAI_MODEL", cfg.AI.Fallback.Model)
		cfg.AI.Fallback.BaseURL = getEnv("OPENAI_BASE_URL", cfg.AI.Fallback.BaseURL)
	}
	if strings.EqualFold(getEnv("DISABLE_AI", ""), "true") {
		cfg.AI.Disabled = true
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_PORT") == "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if cfg.Engine.Threshold < 1 || cfg.Engine.Threshold > 10 {
		return fmt.Errorf("engine.threshold %d must be between 1 and 10", cfg.Engine.Threshold)
	}
	if cfg.Engine.MaxQuestions < 1 {
		return fmt.Errorf("engine.max_questions %d must be positive", cfg.Engine.MaxQuestions)
	}
	if cfg.AI.Retries < 0 {
		return fmt.Errorf("ai.retries %d must not be negative", cfg.AI.Retries)
	}
	if cfg.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl %s must be positive", cfg.Sessions.TTL)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}
