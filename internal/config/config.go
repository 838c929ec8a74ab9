package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/router-for-me/GPTHub/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvAdminUsername = "ADMIN_USERNAME"
	EnvAdminPassword = "ADMIN_PASSWORD"
	EnvRedisAddr     = "REDIS_ADDR"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// readConfigFile decodes the YAML file into out; a missing file is not an error.
func readConfigFile(configPath string, out any) error {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return nil
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 7 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// ErrMissingJWTSecret indicates the JWT secret is empty.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` or JWT_SECRET)")

// OpenAIConfig holds credentials for the upstream assistant provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api-key"`
	BaseURL      string `yaml:"base-url"`
	Organization string `yaml:"organization"`
}

// ErrMissingOpenAIKey indicates no provider API key is configured.
var ErrMissingOpenAIKey = errors.New("missing openai api key (set `openai.api-key` or OPENAI_API_KEY)")

// LoadOpenAIConfig loads provider credentials from the config file and env.
func LoadOpenAIConfig(configPath string) (OpenAIConfig, error) {
	type fileConfig struct {
		OpenAI OpenAIConfig `yaml:"openai"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return OpenAIConfig{}, errRead
	}
	result := cfg.OpenAI
	if key := strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey)); key != "" {
		result.APIKey = key
	}
	if baseURL := strings.TrimSpace(os.Getenv(EnvOpenAIBaseURL)); baseURL != "" {
		result.BaseURL = baseURL
	}
	result.APIKey = strings.TrimSpace(result.APIKey)
	result.BaseURL = strings.TrimSpace(result.BaseURL)
	if result.APIKey == "" {
		return result, ErrMissingOpenAIKey
	}
	return result, nil
}

// RunConfig controls how assistant runs are awaited.
type RunConfig struct {
	PollInterval     time.Duration `yaml:"poll-interval"`
	MaxWait          time.Duration `yaml:"max-wait"`
	SeedInstructions bool          `yaml:"seed-instructions"`
}

const (
	defaultRunPollInterval = time.Second
	defaultRunMaxWait      = 2 * time.Minute
)

// LoadRunConfig loads assistant run settings, applying defaults.
func LoadRunConfig(configPath string) (RunConfig, error) {
	type fileConfig struct {
		Assistant RunConfig `yaml:"assistant"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return RunConfig{}, errRead
	}
	result := cfg.Assistant
	if result.PollInterval <= 0 {
		result.PollInterval = defaultRunPollInterval
	}
	if result.MaxWait <= 0 {
		result.MaxWait = defaultRunMaxWait
	}
	if result.MaxWait < result.PollInterval {
		result.MaxWait = result.PollInterval
	}
	return result, nil
}

// RateRule caps how often one user may perform an action within a fixed window.
// A zero Limit disables the rule.
type RateRule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// RateLimitConfig controls per-user send and upload limits.
type RateLimitConfig struct {
	Send          RateRule `yaml:"send"`
	Upload        RateRule `yaml:"upload"`
	RedisEnabled  bool     `yaml:"redis-enabled"`
	RedisAddr     string   `yaml:"redis-addr"`
	RedisPassword string   `yaml:"redis-password"`
	RedisDB       int      `yaml:"redis-db"`
	RedisPrefix   string   `yaml:"redis-prefix"`
}

// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
const DefaultRateLimitRedisPrefix = settings.DefaultRateLimitRedisPrefix

// LoadRateLimitConfig loads rate limit settings.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	type fileConfig struct {
		RateLimit RateLimitConfig `yaml:"rate-limit"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return RateLimitConfig{}, errRead
	}
	result := cfg.RateLimit
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		result.RedisAddr = addr
		result.RedisEnabled = true
	}
	result.RedisAddr = strings.TrimSpace(result.RedisAddr)
	result.RedisPassword = strings.TrimSpace(result.RedisPassword)
	result.RedisPrefix = strings.TrimSpace(result.RedisPrefix)
	if result.RedisPrefix == "" {
		result.RedisPrefix = DefaultRateLimitRedisPrefix
	}
	if result.RedisDB < 0 {
		result.RedisDB = 0
	}
	result.Send = normalizeRateRule(result.Send)
	result.Upload = normalizeRateRule(result.Upload)
	return result, nil
}

func normalizeRateRule(rule RateRule) RateRule {
	if rule.Limit < 0 {
		rule.Limit = settings.DefaultRateLimit
	}
	if rule.Window <= 0 {
		rule.Window = settings.DefaultRateWindow
	}
	return rule
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// LoadServerConfig loads listener settings; defaultPort applies when unset.
func LoadServerConfig(configPath string, defaultPort int) (ServerConfig, error) {
	var cfg ServerConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return ServerConfig{}, errRead
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	return cfg, nil
}

// BootstrapAdmin describes the admin account ensured at startup.
type BootstrapAdmin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadBootstrapAdmin loads the bootstrap admin credentials; empty means disabled.
func LoadBootstrapAdmin(configPath string) (BootstrapAdmin, error) {
	type fileConfig struct {
		Admin BootstrapAdmin `yaml:"admin"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return BootstrapAdmin{}, errRead
	}
	result := cfg.Admin
	if username := strings.TrimSpace(os.Getenv(EnvAdminUsername)); username != "" {
		result.Username = username
	}
	if password := os.Getenv(EnvAdminPassword); password != "" {
		result.Password = password
	}
	result.Username = strings.TrimSpace(result.Username)
	return result, nil
}
