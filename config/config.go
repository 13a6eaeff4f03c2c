package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/tracker"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Providers     ProvidersConfig
	Routing       RoutingConfig
	Tracker       TrackerConfig
	Database      *DatabaseConfig // Optional: cost audit export. When nil, records stay in memory only.
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// ProvidersConfig holds one block per configured backend
type ProvidersConfig struct {
	Backends map[string]providers.BackendConfig
}

// Enabled returns the backends that have an API key, in the canonical
// backend order
func (p ProvidersConfig) Enabled() []providers.BackendConfig {
	out := make([]providers.BackendConfig, 0, len(p.Backends))
	for _, name := range providers.KnownBackends() {
		if cfg, ok := p.Backends[name]; ok && cfg.APIKey != "" {
			out = append(out, cfg)
		}
	}
	return out
}

// RoutingConfig holds routing and health settings
type RoutingConfig struct {
	PreferencesFile string
	HealthTTL       time.Duration
	HealthInterval  time.Duration // 0 disables the background refresh
	AttemptTimeout  time.Duration // 0 leaves attempts bounded by the backend timeout
	Preferences     []providers.RoutingPreference
}

// TrackerConfig holds cost tracking settings
type TrackerConfig struct {
	BufferSize    int
	DefaultRate   float64
	Rates         map[string]float64
	DailyLimitUSD float64 // 0 disables the budget guard
}

// TrackerSettings converts to the tracker package configuration
func (t TrackerConfig) TrackerSettings() tracker.Config {
	return tracker.Config{
		BufferSize:  t.BufferSize,
		Rates:       t.Rates,
		DefaultRate: t.DefaultRate,
	}
}

// DatabaseConfig holds PostgreSQL configuration for the cost audit export
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	BatchSize        int
	FlushInterval    time.Duration
	Workers          int
	QueueSize        int
}

// AuthConfig holds admin API authentication settings
type AuthConfig struct {
	AdminJWTSecret string
	Issuer         string
}

// Enabled reports whether admin endpoints are protected
func (a AuthConfig) Enabled() bool {
	return a.AdminJWTSecret != ""
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Providers: loadProvidersConfig(),
		Routing: RoutingConfig{
			PreferencesFile: getEnv("ROUTING_PREFERENCES_FILE", ""),
			HealthTTL:       getEnvAsDuration("HEALTH_CACHE_TTL", providers.DefaultHealthTTL),
			HealthInterval:  getEnvAsDuration("HEALTH_CHECK_INTERVAL", 0),
			AttemptTimeout:  getEnvAsDuration("ROUTING_ATTEMPT_TIMEOUT", 0),
		},
		Tracker: TrackerConfig{
			BufferSize:    getEnvAsInt("COST_BUFFER_SIZE", tracker.DefaultBufferSize),
			DefaultRate:   getEnvAsFloat("COST_DEFAULT_RATE", tracker.DefaultRate),
			Rates:         loadRates(),
			DailyLimitUSD: getEnvAsFloat("DAILY_COST_LIMIT_USD", 0),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			Issuer:         getEnv("ADMIN_JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	prefs := providers.DefaultPreferences()
	if cfg.Routing.PreferencesFile != "" {
		loaded, err := LoadPreferences(cfg.Routing.PreferencesFile)
		if err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		prefs = loaded
	}
	cfg.Routing.Preferences = prefs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the manager cannot run with
func (c *Config) Validate() error {
	for name, backend := range c.Providers.Backends {
		if backend.Temperature < 0 || backend.Temperature > 2 {
			return configError(name, "temperature must be between 0 and 2, got %v", backend.Temperature)
		}
		if backend.MaxTokens <= 0 {
			return configError(name, "max tokens must be positive, got %d", backend.MaxTokens)
		}
		if backend.Timeout <= 0 {
			return configError(name, "timeout must be positive, got %s", backend.Timeout)
		}
		if backend.MaxRetries <= 0 {
			return configError(name, "max retries must be positive, got %d", backend.MaxRetries)
		}
	}

	if c.Providers.Backends != nil && len(c.Providers.Enabled()) == 0 && c.IsProduction() {
		return configError("", "at least one backend API key is required in production")
	}

	if c.Tracker.BufferSize <= 0 {
		return configError("", "cost buffer size must be positive, got %d", c.Tracker.BufferSize)
	}
	if c.Tracker.DefaultRate < 0 {
		return configError("", "default cost rate cannot be negative")
	}
	for name, rate := range c.Tracker.Rates {
		if rate < 0 {
			return configError(name, "cost rate cannot be negative, got %v", rate)
		}
	}
	if c.Tracker.DailyLimitUSD < 0 {
		return configError("", "daily cost limit cannot be negative")
	}

	if c.Routing.HealthTTL < 0 || c.Routing.HealthInterval < 0 || c.Routing.AttemptTimeout < 0 {
		return configError("", "routing durations cannot be negative")
	}
	for _, pref := range c.Routing.Preferences {
		if !pref.TaskType.Valid() {
			return configError("", "unknown task type %q in routing preferences", pref.TaskType)
		}
	}

	if c.IsProduction() && !c.Auth.Enabled() {
		return configError("", "ADMIN_JWT_SECRET is required in production")
	}

	if c.Observability.LogLevel == "" {
		return configError("", "log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func configError(backend, format string, args ...interface{}) error {
	return providers.NewProviderError(providers.KindConfiguration, backend, fmt.Sprintf(format, args...), 0, false, nil)
}

// loadProvidersConfig reads <NAME>_API_KEY, <NAME>_MODEL, <NAME>_BASE_URL,
// <NAME>_MAX_TOKENS, <NAME>_TEMPERATURE, <NAME>_TIMEOUT, <NAME>_MAX_RETRIES
// and <NAME>_RETRY_DELAY for every known backend
func loadProvidersConfig() ProvidersConfig {
	backends := make(map[string]providers.BackendConfig)
	for _, name := range providers.KnownBackends() {
		prefix := strings.ToUpper(name) + "_"
		d := providers.DefaultBackendConfig(name)

		backends[name] = providers.BackendConfig{
			Name:         name,
			APIKeyEnvVar: prefix + "API_KEY",
			APIKey:       getEnv(prefix+"API_KEY", ""),
			BaseURL:      getEnv(prefix+"BASE_URL", ""),
			Model:        getEnv(prefix+"MODEL", ""),
			MaxTokens:    getEnvAsInt(prefix+"MAX_TOKENS", d.MaxTokens),
			Temperature:  getEnvAsFloat(prefix+"TEMPERATURE", d.Temperature),
			Timeout:      getEnvAsDuration(prefix+"TIMEOUT", d.Timeout),
			MaxRetries:   getEnvAsInt(prefix+"MAX_RETRIES", d.MaxRetries),
			RetryDelay:   getEnvAsDuration(prefix+"RETRY_DELAY", d.RetryDelay),
		}
	}
	return ProvidersConfig{Backends: backends}
}

// loadRates reads COST_RATE_<NAME> overrides
func loadRates() map[string]float64 {
	rates := make(map[string]float64)
	for _, name := range providers.KnownBackends() {
		key := "COST_RATE_" + strings.ToUpper(name)
		if os.Getenv(key) == "" {
			continue
		}
		rates[name] = getEnvAsFloat(key, tracker.DefaultRate)
	}
	return rates
}

// loadDatabaseConfig returns nil when DATABASE_URL is not set
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		BatchSize:        getEnvAsInt("AUDIT_BATCH_SIZE", 100),
		FlushInterval:    getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
		Workers:          getEnvAsInt("AUDIT_WORKERS", 2),
		QueueSize:        getEnvAsInt("AUDIT_QUEUE_SIZE", 1000),
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
