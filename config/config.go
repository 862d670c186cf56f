package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Storage      StorageConfig      `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider access settings. Per-call deadlines come
// from gateway.call_timeout.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// GatewayConfig tunes outbound call behaviour
type GatewayConfig struct {
	MinRequestSpacing time.Duration `mapstructure:"min_request_spacing"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	DefaultCooldown   time.Duration `mapstructure:"default_cooldown"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
}

func (g GatewayConfig) Validate() error {
	if g.MaxRetries < 0 {
		return fmt.Errorf("gateway.max_retries cannot be negative")
	}
	if g.MinRequestSpacing < 0 {
		return fmt.Errorf("gateway.min_request_spacing cannot be negative")
	}
	if g.InitialBackoff < 0 {
		return fmt.Errorf("gateway.initial_backoff cannot be negative")
	}
	return nil
}

// CatalogConfig controls the provider catalog lookup
type CatalogConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	RedisKey string        `mapstructure:"redis_key"`
	Static   []StaticAgent `mapstructure:"static"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// StaticAgent declares a catalog entry in config for dev setups
type StaticAgent struct {
	ID          string        `mapstructure:"id"`
	Name        string        `mapstructure:"name"`
	Description string        `mapstructure:"description"`
	Kind        string        `mapstructure:"kind"`
	Endpoint    string        `mapstructure:"endpoint"`
	Fields      []StaticField `mapstructure:"fields"`
}

// StaticField declares one provider parameter of a static catalog entry.
type StaticField struct {
	Name        string   `mapstructure:"name"`
	Type        string   `mapstructure:"type"`
	Description string   `mapstructure:"description"`
	Target      string   `mapstructure:"target"`
	Options     []string `mapstructure:"options"`
}

// RedisConfig contains redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if r.Host != "" && r.Port == "" {
		return fmt.Errorf("catalog.redis.port required when host is provided")
	}
	return nil
}

// OrchestratorConfig tunes classification and plan synthesis
type OrchestratorConfig struct {
	ComplexityThreshold float64       `mapstructure:"complexity_threshold"`
	SynthesisRetries    int           `mapstructure:"synthesis_retries"`
	SynthesisBackoff    time.Duration `mapstructure:"synthesis_backoff"`
	RequireApproval     bool          `mapstructure:"require_approval"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.max_processing_time", "10m")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 2000)
	viper.SetDefault("gateway.min_request_spacing", "200ms")
	viper.SetDefault("gateway.max_retries", 3)
	viper.SetDefault("gateway.initial_backoff", "1s")
	viper.SetDefault("gateway.default_cooldown", "10s")
	viper.SetDefault("gateway.call_timeout", "60s")
	viper.SetDefault("catalog.cache_ttl", "5m")
	viper.SetDefault("catalog.redis_key", "conductor:agents")
	viper.SetDefault("orchestrator.complexity_threshold", 0.5)
	viper.SetDefault("orchestrator.synthesis_retries", 2)
	viper.SetDefault("orchestrator.synthesis_backoff", "2s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CONDUCTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Gateway.Validate(); err != nil {
		panic(err)
	}
	if err := config.Catalog.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}
