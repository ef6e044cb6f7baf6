package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
)

// EnvPrefix prefixes every environment override: school.x_token is read from
// INTCOPILOT_SCHOOL_X_TOKEN.
const EnvPrefix = "INTCOPILOT"

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	School        SchoolConfig
	Barker        BarkerConfig
	Bark          BarkConfig
	Sniffer       SnifferConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Features      *FeatureFlags
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// SchoolConfig holds the school information API settings.
type SchoolConfig struct {
	BaseURL  string
	SchoolID string

	// XToken is issued by the school platform; obtaining it is manual.
	XToken string

	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// ProfileConfig describes one monitored student.
type ProfileConfig struct {
	Description  string   `mapstructure:"description"`
	StudentID    string   `mapstructure:"student_id"`
	SchoolYearID string   `mapstructure:"school_year_id"`
	Window       string   `mapstructure:"window"`
	BarkKeys     []string `mapstructure:"bark_keys"`
}

// BarkerConfig holds the attendance poller settings.
type BarkerConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration

	// Window is the default preset for profiles that do not set one.
	Window string

	// SnapshotStore is "memory" or "redis".
	SnapshotStore string
	SnapshotTTL   time.Duration

	CriticalThreshold string
	Profiles          []ProfileConfig
}

// BarkConfig holds the Bark push service settings.
type BarkConfig struct {
	ServerURL   string
	Group       string
	Sound       string
	Icon        string
	URL         string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// SnifferConfig holds the student crawler settings.
type SnifferConfig struct {
	InitialStudentID   string
	InitialStudentName string
	Window             string

	RateLimitPerSecond int
	MaxRetries         int
	RetryDelay         time.Duration
	AcquireTimeout     time.Duration

	// StateChannel is the Redis channel crawl states are mirrored to.
	StateChannel string

	EventLogInterval time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL takes precedence over the individual fields when set.
	URL string

	Host                string
	Port                int
	User                string
	Password            string
	Name                string
	MaintenanceDatabase string
	SSLMode             string

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration

	// EnsureDatabase creates the database when it does not exist.
	EnsureDatabase bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// HTTPConfig holds the status/control API settings.
type HTTPConfig struct {
	Enabled            bool
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	RateLimitPerMinute int
	APIKeys            []string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string // debug, info, warn, error
	LogFormat      string // json, console
	MetricsEnabled bool
}

// Load reads configuration from an optional .env file, an optional YAML file
// and INTCOPILOT_* environment variables, in increasing precedence. With an
// empty path intcopilot.yaml is looked up in . and ./config; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("intcopilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	env := Environment(v.GetString("app.environment"))
	cfg.App = AppConfig{
		Name:            v.GetString("app.name"),
		Environment:     env,
		Debug:           env == EnvDevelopment || v.GetBool("app.debug"),
		Version:         v.GetString("app.version"),
		ShutdownTimeout: v.GetDuration("app.shutdown_timeout"),
	}

	cfg.School = SchoolConfig{
		BaseURL:          v.GetString("school.base_url"),
		SchoolID:         v.GetString("school.school_id"),
		XToken:           v.GetString("school.x_token"),
		Timeout:          v.GetDuration("school.timeout"),
		MaxAttempts:      v.GetInt("school.max_attempts"),
		RetryDelay:       v.GetDuration("school.retry_delay"),
		MaxDelay:         v.GetDuration("school.max_delay"),
		BreakerThreshold: v.GetInt("school.breaker_threshold"),
		BreakerTimeout:   v.GetDuration("school.breaker_timeout"),
	}

	cfg.Barker = BarkerConfig{
		Interval:          v.GetDuration("barker.interval"),
		FetchTimeout:      v.GetDuration("barker.fetch_timeout"),
		Window:            v.GetString("barker.window"),
		SnapshotStore:     strings.ToLower(v.GetString("barker.snapshot_store")),
		SnapshotTTL:       v.GetDuration("barker.snapshot_ttl"),
		CriticalThreshold: v.GetString("barker.critical_threshold"),
	}
	if err := v.UnmarshalKey("barker.profiles", &cfg.Barker.Profiles); err != nil {
		return nil, fmt.Errorf("barker profiles: %w", err)
	}

	cfg.Bark = BarkConfig{
		ServerURL:   v.GetString("bark.server_url"),
		Group:       v.GetString("bark.group"),
		Sound:       v.GetString("bark.sound"),
		Icon:        v.GetString("bark.icon"),
		URL:         v.GetString("bark.url"),
		Timeout:     v.GetDuration("bark.timeout"),
		MaxAttempts: v.GetInt("bark.max_attempts"),
		RetryDelay:  v.GetDuration("bark.retry_delay"),
	}

	cfg.Sniffer = SnifferConfig{
		InitialStudentID:   v.GetString("sniffer.initial_student_id"),
		InitialStudentName: v.GetString("sniffer.initial_student_name"),
		Window:             v.GetString("sniffer.window"),
		RateLimitPerSecond: v.GetInt("sniffer.rate_limit_per_second"),
		MaxRetries:         v.GetInt("sniffer.max_retries"),
		RetryDelay:         v.GetDuration("sniffer.retry_delay"),
		AcquireTimeout:     v.GetDuration("sniffer.acquire_timeout"),
		StateChannel:       v.GetString("sniffer.state_channel"),
		EventLogInterval:   v.GetDuration("sniffer.event_log_interval"),
	}

	cfg.Database = DatabaseConfig{
		URL:                 v.GetString("database.url"),
		Host:                v.GetString("database.host"),
		Port:                v.GetInt("database.port"),
		User:                v.GetString("database.user"),
		Password:            v.GetString("database.password"),
		Name:                v.GetString("database.name"),
		MaintenanceDatabase: v.GetString("database.maintenance_database"),
		SSLMode:             v.GetString("database.ssl_mode"),
		MaxConns:            v.GetInt("database.max_conns"),
		MinConns:            v.GetInt("database.min_conns"),
		MaxConnLifetime:     v.GetDuration("database.max_conn_lifetime"),
		ConnectTimeout:      v.GetDuration("database.connect_timeout"),
		EnsureDatabase:      v.GetBool("database.ensure_database"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("redis.host"),
		Port:     v.GetInt("redis.port"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		PoolSize: v.GetInt("redis.pool_size"),
	}

	cfg.HTTP = HTTPConfig{
		Enabled:            v.GetBool("http.enabled"),
		Host:               v.GetString("http.host"),
		Port:               v.GetInt("http.port"),
		ReadTimeout:        v.GetDuration("http.read_timeout"),
		WriteTimeout:       v.GetDuration("http.write_timeout"),
		RateLimitPerMinute: v.GetInt("http.rate_limit_per_minute"),
		APIKeys:            splitAndTrim(v.GetStringSlice("http.api_keys")),
	}

	cfg.Features = LoadFeatureFlags(v)

	cfg.Observability = ObservabilityConfig{
		LogLevel:       v.GetString("observability.log_level"),
		LogFormat:      v.GetString("observability.log_format"),
		MetricsEnabled: v.GetBool("observability.metrics_enabled"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "intcopilot")
	v.SetDefault("app.environment", string(EnvProduction))
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.shutdown_timeout", "30s")

	v.SetDefault("school.base_url", "https://pcd.intschool.cn")
	v.SetDefault("school.school_id", "8")
	v.SetDefault("school.timeout", "15s")
	v.SetDefault("school.max_attempts", 3)
	v.SetDefault("school.retry_delay", "500ms")
	v.SetDefault("school.max_delay", "5s")
	v.SetDefault("school.breaker_threshold", 5)
	v.SetDefault("school.breaker_timeout", "60s")

	v.SetDefault("barker.interval", "5m")
	v.SetDefault("barker.fetch_timeout", "30s")
	v.SetDefault("barker.window", "today")
	v.SetDefault("barker.snapshot_store", "memory")
	v.SetDefault("barker.snapshot_ttl", "168h")
	v.SetDefault("barker.critical_threshold", "late")

	v.SetDefault("bark.server_url", "https://api.day.app")
	v.SetDefault("bark.group", "Attendance")
	v.SetDefault("bark.sound", "shake")
	v.SetDefault("bark.url", "pcd.intschool.com")
	v.SetDefault("bark.timeout", "10s")
	v.SetDefault("bark.max_attempts", 3)
	v.SetDefault("bark.retry_delay", "1s")

	v.SetDefault("sniffer.window", "thisweek")
	v.SetDefault("sniffer.rate_limit_per_second", 1)
	v.SetDefault("sniffer.max_retries", 3)
	v.SetDefault("sniffer.retry_delay", "5s")
	v.SetDefault("sniffer.acquire_timeout", "30s")
	v.SetDefault("sniffer.state_channel", "intcopilot:crawl:state")
	v.SetDefault("sniffer.event_log_interval", "1s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "intcopilot")
	v.SetDefault("database.maintenance_database", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.ensure_database", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.rate_limit_per_minute", 120)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_enabled", true)

	setFeatureDefaults(v)
}

// ═══════════════════════════════════════════════════════════════════════════
// VALIDATION
// ═══════════════════════════════════════════════════════════════════════════

// Validate checks settings shared by both commands.
func (c *Config) Validate() error {
	var errs []string

	if c.School.BaseURL == "" {
		errs = append(errs, "school.base_url is required")
	}
	if c.School.MaxAttempts < 1 {
		errs = append(errs, "school.max_attempts must be at least 1")
	}
	if c.School.Timeout <= 0 {
		errs = append(errs, "school.timeout must be positive")
	}
	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		errs = append(errs, "http.port must be 1-65535")
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, "observability.log_format must be json or console")
	}

	return joinErrors(errs)
}

// ValidateBarker checks the settings `barker run` needs.
func (c *Config) ValidateBarker() error {
	var errs []string

	if c.School.XToken == "" {
		errs = append(errs, "school.x_token is required (INTCOPILOT_SCHOOL_X_TOKEN)")
	}
	if c.Barker.Interval <= 0 {
		errs = append(errs, "barker.interval must be positive")
	}
	if _, err := attendance.ParsePreset(c.Barker.Window); err != nil {
		errs = append(errs, fmt.Sprintf("barker.window: %v", err))
	}
	if c.Barker.SnapshotStore != "memory" && c.Barker.SnapshotStore != "redis" {
		errs = append(errs, "barker.snapshot_store must be memory or redis")
	}
	if attendance.ParseStatus(c.Barker.CriticalThreshold) == attendance.NoRecord {
		errs = append(errs, fmt.Sprintf("barker.critical_threshold %q is not an attendance status", c.Barker.CriticalThreshold))
	}
	if len(c.Barker.Profiles) == 0 {
		errs = append(errs, "barker.profiles must contain at least one profile")
	}
	for i, p := range c.Barker.Profiles {
		if strings.TrimSpace(p.StudentID) == "" {
			errs = append(errs, fmt.Sprintf("barker.profiles[%d].student_id is required", i))
		}
		if strings.TrimSpace(p.SchoolYearID) == "" {
			errs = append(errs, fmt.Sprintf("barker.profiles[%d].school_year_id is required", i))
		}
		if p.Window != "" {
			if _, err := attendance.ParsePreset(p.Window); err != nil {
				errs = append(errs, fmt.Sprintf("barker.profiles[%d].window: %v", i, err))
			}
		}
	}

	return joinErrors(errs)
}

// ValidateSniffer checks the settings `sniffer run` needs.
func (c *Config) ValidateSniffer() error {
	var errs []string

	if c.School.XToken == "" {
		errs = append(errs, "school.x_token is required (INTCOPILOT_SCHOOL_X_TOKEN)")
	}
	if strings.TrimSpace(c.Sniffer.InitialStudentID) == "" {
		errs = append(errs, "sniffer.initial_student_id is required")
	}
	if strings.TrimSpace(c.Sniffer.InitialStudentName) == "" {
		errs = append(errs, "sniffer.initial_student_name is required")
	}
	if _, err := attendance.ParseCrawlPreset(c.Sniffer.Window); err != nil {
		errs = append(errs, fmt.Sprintf("sniffer.window: %v", err))
	}
	if c.Sniffer.RateLimitPerSecond < 1 || c.Sniffer.RateLimitPerSecond > 100 {
		errs = append(errs, "sniffer.rate_limit_per_second must be 1-100")
	}
	if c.Sniffer.MaxRetries < 0 || c.Sniffer.MaxRetries > 10 {
		errs = append(errs, "sniffer.max_retries must be 0-10")
	}

	return joinErrors(errs)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
}

func splitAndTrim(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
