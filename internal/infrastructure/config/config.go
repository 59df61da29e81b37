package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Log       LogConfig
	Event     EventConfig
	HTTP      HTTPConfig
	Lifecycle LifecycleConfig
	Tools     ToolsConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
	Swagger   SwaggerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ClientConfig is an API client allowed to exchange its secret for a token
type ClientConfig struct {
	ID         string   `mapstructure:"id"`
	SecretHash string   `mapstructure:"secret_hash"` // bcrypt
	Scopes     []string `mapstructure:"scopes"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	Secret          string
	Issuer          string
	TokenExpiration time.Duration
	Clients         []ClientConfig
	// TokenRateLimit caps token requests per client IP within TokenRateWindow
	TokenRateLimit  int
	TokenRateWindow time.Duration
}

// EventConfig holds outbox and event handler configuration
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	IdempotencyTTL   time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// LifecycleConfig holds the cooling scheduler settings
type LifecycleConfig struct {
	SchedulerEnabled bool
	ScheduleInterval time.Duration
	BatchSize        int
	// SkipLocked makes concurrent schedulers skip rows another one holds
	SkipLocked       bool
	RetryDelay       time.Duration // wait after a failed dispatch before the project is picked again
	RestoreRetention time.Duration // how long restored data stays HOT
	PendingTimeout   time.Duration // PENDING operations older than this are failed
}

// ToolsConfig configures the cooling API client
type ToolsConfig struct {
	BaseURL       string
	CoolPath      string
	RestorePath   string
	CallbackURL   string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	TokenScope    string
	TokenSubject  string
	TokenExpiry   time.Duration
}

// StorageConfig configures the object store holding cooled data
type StorageConfig struct {
	VerifyInventory bool
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// SwaggerConfig controls the /swagger API documentation endpoint
type SwaggerConfig struct {
	Enabled     bool
	RequireAuth bool     // admin token required
	AllowedIPs  []string // addresses or CIDR ranges, empty allows all
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTLP gRPC endpoint, e.g. "localhost:4317"
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration

	// Pyroscope continuous profiling
	ProfilingEnabled       bool
	ProfilingServerAddress string // e.g. "http://pyroscope:4040"
	ProfilingAuthUser      string
	ProfilingAuthPassword  string
	ProfilingMutex         bool // also collect mutex and block profiles
}

// Load loads configuration from config.toml and LAB_ environment variables.
// Priority (highest to lowest):
// 1. Environment variables (e.g., LAB_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return fromViper(v)
}

// LoadFromString parses TOML content the same way Load parses config.toml
func LoadFromString(content string) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	return fromViper(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("LAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			Secret:          v.GetString("auth.secret"),
			Issuer:          v.GetString("auth.issuer"),
			TokenExpiration: v.GetDuration("auth.token_expiration"),
			TokenRateLimit:  v.GetInt("auth.token_rate_limit"),
			TokenRateWindow: v.GetDuration("auth.token_rate_window"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
			IdempotencyTTL:   v.GetDuration("event.idempotency_ttl"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Lifecycle: LifecycleConfig{
			SchedulerEnabled: v.GetBool("lifecycle.scheduler_enabled"),
			ScheduleInterval: v.GetDuration("lifecycle.schedule_interval"),
			BatchSize:        v.GetInt("lifecycle.batch_size"),
			SkipLocked:       v.GetBool("lifecycle.skip_locked"),
			RetryDelay:       v.GetDuration("lifecycle.retry_delay"),
			RestoreRetention: v.GetDuration("lifecycle.restore_retention"),
			PendingTimeout:   v.GetDuration("lifecycle.pending_timeout"),
		},
		Tools: ToolsConfig{
			BaseURL:       v.GetString("tools.base_url"),
			CoolPath:      v.GetString("tools.cool_path"),
			RestorePath:   v.GetString("tools.restore_path"),
			CallbackURL:   v.GetString("tools.callback_url"),
			Timeout:       v.GetDuration("tools.timeout"),
			MaxRetries:    v.GetInt("tools.max_retries"),
			RetryInterval: v.GetDuration("tools.retry_interval"),
			TokenScope:    v.GetString("tools.token_scope"),
			TokenSubject:  v.GetString("tools.token_subject"),
			TokenExpiry:   v.GetDuration("tools.token_expiry"),
		},
		Storage: StorageConfig{
			VerifyInventory: v.GetBool("storage.verify_inventory"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			Prefix:          v.GetString("storage.prefix"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),

			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
			ProfilingAuthUser:      v.GetString("telemetry.profiling_auth_user"),
			ProfilingAuthPassword:  v.GetString("telemetry.profiling_auth_password"),
			ProfilingMutex:         v.GetBool("telemetry.profiling_mutex"),
		},
		Swagger: SwaggerConfig{
			Enabled:     v.GetBool("swagger.enabled"),
			RequireAuth: v.GetBool("swagger.require_auth"),
			AllowedIPs:  v.GetStringSlice("swagger.allowed_ips"),
		},
	}

	if err := v.UnmarshalKey("auth.clients", &cfg.Auth.Clients); err != nil {
		return nil, fmt.Errorf("error reading auth.clients: %w", err)
	}

	// Booleans that default to true must be checked with IsSet
	if !v.IsSet("lifecycle.skip_locked") {
		cfg.Lifecycle.SkipLocked = true
	}
	if !v.IsSet("lifecycle.scheduler_enabled") {
		cfg.Lifecycle.SchedulerEnabled = true
	}
	if !v.IsSet("event.processor_enabled") {
		cfg.Event.ProcessorEnabled = true
	}
	if !v.IsSet("swagger.enabled") {
		cfg.Swagger.Enabled = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "lab-lifecycle"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "lab"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "lab-lifecycle"
	}
	if cfg.Auth.TokenExpiration == 0 {
		cfg.Auth.TokenExpiration = time.Hour
	}
	if cfg.Auth.TokenRateLimit == 0 {
		cfg.Auth.TokenRateLimit = 20
	}
	if cfg.Auth.TokenRateWindow == 0 {
		cfg.Auth.TokenRateWindow = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	// No CORS origin default: cross-origin requests stay disabled until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Lifecycle.ScheduleInterval == 0 {
		cfg.Lifecycle.ScheduleInterval = 15 * time.Minute
	}
	if cfg.Lifecycle.BatchSize == 0 {
		cfg.Lifecycle.BatchSize = 10
	}
	if cfg.Lifecycle.RetryDelay == 0 {
		cfg.Lifecycle.RetryDelay = time.Hour
	}
	if cfg.Lifecycle.RestoreRetention == 0 {
		cfg.Lifecycle.RestoreRetention = 30 * 24 * time.Hour
	}
	if cfg.Lifecycle.PendingTimeout == 0 {
		cfg.Lifecycle.PendingTimeout = 15 * time.Minute
	}
	if cfg.Tools.BaseURL == "" {
		cfg.Tools.BaseURL = "http://localhost:8001"
	}
	if cfg.Tools.CoolPath == "" {
		cfg.Tools.CoolPath = "/data/{project}/cool"
	}
	if cfg.Tools.RestorePath == "" {
		cfg.Tools.RestorePath = "/data/{project}/restore"
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 10 * time.Second
	}
	if cfg.Tools.MaxRetries == 0 {
		cfg.Tools.MaxRetries = 3
	}
	if cfg.Tools.RetryInterval == 0 {
		cfg.Tools.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Tools.TokenScope == "" {
		cfg.Tools.TokenScope = "tools:lifecycle"
	}
	if cfg.Tools.TokenSubject == "" {
		cfg.Tools.TokenSubject = cfg.App.Name
	}
	if cfg.Tools.TokenExpiry == 0 {
		cfg.Tools.TokenExpiry = 5 * time.Minute
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	if c.Lifecycle.BatchSize < 0 {
		return fmt.Errorf("lifecycle.batch_size must be positive")
	}
	if c.Lifecycle.ScheduleInterval < time.Second {
		return fmt.Errorf("lifecycle.schedule_interval must be at least 1s")
	}
	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("tools.max_retries cannot be negative")
	}
	if _, err := url.Parse(c.Tools.BaseURL); err != nil {
		return fmt.Errorf("tools.base_url is invalid: %w", err)
	}
	if c.Storage.VerifyInventory && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.verify_inventory is enabled")
	}
	for i, client := range c.Auth.Clients {
		if client.ID == "" || client.SecretHash == "" {
			return fmt.Errorf("auth.clients[%d] needs both id and secret_hash", i)
		}
	}

	if c.App.Env == "production" {
		if len(c.Auth.Secret) < 32 {
			return fmt.Errorf("auth.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
		if c.Swagger.Enabled && !c.Swagger.RequireAuth && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must be disabled, require authentication, or have IP restriction in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServerAddress == "" {
		return fmt.Errorf("telemetry.profiling_server_address is required when profiling is enabled")
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
