package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// EnvPrefix is prepended to every environment override, e.g. GOTRS_INTAKE_DATABASE_DSN.
const EnvPrefix = "GOTRS_INTAKE"

// Config represents the application configuration.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Redis         RedisConfig             `mapstructure:"redis"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Ticket        TicketConfig            `mapstructure:"ticket"`
	Intake        IntakeConfig            `mapstructure:"intake"`
	API           APIConfig               `mapstructure:"api"`
	Pipe          PipeConfig              `mapstructure:"pipe"`
	Mailboxes     []MailboxConfig         `mapstructure:"mailboxes"`
	Organizations []models.Organization   `mapstructure:"organizations"`
	Priorities    []models.TicketPriority `mapstructure:"priorities"`
	Webhooks      []WebhookConfig         `mapstructure:"webhooks"`
	FormsFile     string                  `mapstructure:"forms_file"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	SystemID string `mapstructure:"system_id"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, mysql, sqlite3, memory
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	SeenTTL  time.Duration `mapstructure:"seen_ttl"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // fs, db, memory
	FSPath  string `mapstructure:"fs_path"`
}

type TicketConfig struct {
	NumberGenerator string        `mapstructure:"number_generator"`
	CounterStore    string        `mapstructure:"counter_store"` // db, redis, memory
	DefaultPriority int           `mapstructure:"default_priority"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
}

type IntakeConfig struct {
	Strict                bool     `mapstructure:"strict"`
	FallbackOnPostFailure bool     `mapstructure:"fallback_on_post_failure"`
	BannedEmails          []string `mapstructure:"banned_emails"`
	SanitizeHTML          bool     `mapstructure:"sanitize_html"`
	MaxBodyBytes          int64    `mapstructure:"max_body_bytes"`
}

type APIConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Keys    []APIKeyConfig `mapstructure:"keys"`
}

// APIKeyConfig describes one issued key. Only the bcrypt hash of the key is configured.
type APIKeyConfig struct {
	Name             string `mapstructure:"name"`
	Hash             string `mapstructure:"hash"`
	IPAddress        string `mapstructure:"ip_address"`
	Active           bool   `mapstructure:"active"`
	CanCreateTickets bool   `mapstructure:"can_create_tickets"`
}

type PipeConfig struct {
	Enabled  bool  `mapstructure:"enabled"`
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type MailboxConfig struct {
	Name           string         `mapstructure:"name"`
	Type           string         `mapstructure:"type"` // pop3, pop3s, imap, imaps
	Host           string         `mapstructure:"host"`
	Port           int            `mapstructure:"port"`
	Username       string         `mapstructure:"username"`
	Password       string         `mapstructure:"password"`
	Folder         string         `mapstructure:"folder"`
	KeepOnServer   bool           `mapstructure:"keep_on_server"`
	TrustedHeaders bool           `mapstructure:"trusted_headers"`
	DialTimeout    time.Duration  `mapstructure:"dial_timeout"`
	PollSchedule   string         `mapstructure:"poll_schedule"` // cron spec with seconds, or @every
	PollTimeout    time.Duration  `mapstructure:"poll_timeout"`
	Dispatch       []DispatchRule `mapstructure:"dispatch"`
}

// DispatchRule routes mail from senders matching a glob pattern to a help topic.
type DispatchRule struct {
	Match      string `mapstructure:"match"`
	TopicID    int    `mapstructure:"topic_id"`
	PriorityID int    `mapstructure:"priority_id"`
}

// WebhookConfig is an endpoint told about every created ticket.
type WebhookConfig struct {
	Name          string            `mapstructure:"name"`
	URL           string            `mapstructure:"url"`
	Secret        string            `mapstructure:"secret"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryCount    int               `mapstructure:"retry_count"`
	RetryInterval time.Duration     `mapstructure:"retry_interval"`
}

// SetDefaults registers defaults for every key the service reads.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gotrs-intake")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.system_id", "10")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.prefix", "gotrs:intake:")
	v.SetDefault("redis.seen_ttl", 7*24*time.Hour)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.fs_path", "/var/lib/gotrs-intake/files")
	v.SetDefault("ticket.number_generator", "DateChecksum")
	v.SetDefault("ticket.counter_store", "memory")
	v.SetDefault("ticket.default_priority", 2)
	v.SetDefault("intake.strict", true)
	v.SetDefault("intake.fallback_on_post_failure", true)
	v.SetDefault("intake.sanitize_html", true)
	v.SetDefault("intake.max_body_bytes", 128*1024)
	v.SetDefault("api.enabled", true)
	v.SetDefault("pipe.enabled", true)
	v.SetDefault("pipe.max_bytes", 32<<20)
}

// Loader reads configuration and optionally watches it for changes.
type Loader struct {
	v  *viper.Viper
	mu sync.RWMutex
	c  *Config
}

// Load reads default.yaml from configPath, merges an optional config.yaml and applies
// environment overrides.
func Load(configPath string) (*Loader, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")

	v.SetConfigName("default")
	v.AddConfigPath(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read default config: %w", err)
		}
	}

	v.SetConfigName("config")
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, c: cfg}, nil
}

// LoadFromFile loads configuration from a single file (useful for testing and the pipe).
func LoadFromFile(configFile string) (*Loader, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, c: cfg}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the current configuration.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.c
}

// Watch reloads the configuration on file changes. Invalid reloads are reported to onError
// and the previous configuration stays active.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(l.v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		l.mu.Lock()
		l.c = cfg
		l.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

// Validate checks cross-field constraints and returns every problem found.
func (c *Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres", "mysql", "sqlite3":
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for driver "+c.Database.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "memory", "db":
	case "fs":
		if c.Storage.FSPath == "" {
			problems = append(problems, "storage.fs_path is required for the fs backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if strings.EqualFold(c.Storage.Backend, "db") && strings.EqualFold(c.Database.Driver, "memory") {
		problems = append(problems, "storage.backend db requires a sql database driver")
	}
	switch strings.ToLower(c.Ticket.CounterStore) {
	case "memory":
	case "db":
		if strings.EqualFold(c.Database.Driver, "memory") {
			problems = append(problems, "ticket.counter_store db requires a sql database driver")
		}
	case "redis":
		if !c.Redis.Enabled {
			problems = append(problems, "ticket.counter_store redis requires redis.enabled")
		}
	default:
		problems = append(problems, fmt.Sprintf("ticket.counter_store %q is not supported", c.Ticket.CounterStore))
	}
	for i, k := range c.API.Keys {
		if k.Hash == "" {
			problems = append(problems, fmt.Sprintf("api.keys[%d] (%s) has no hash", i, k.Name))
		}
	}
	for i, m := range c.Mailboxes {
		if m.Host == "" || m.Username == "" {
			problems = append(problems, fmt.Sprintf("mailboxes[%d] (%s) requires host and username", i, m.Name))
		}
	}
	for i, w := range c.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			problems = append(problems, fmt.Sprintf("webhooks[%d] (%s) needs an http(s) url", i, w.Name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// GetServerAddr returns the listen address.
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetRedisAddr returns the Redis server address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if running in production mode.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// DefaultPriorities is used when no priorities are configured.
func DefaultPriorities() []models.TicketPriority {
	return []models.TicketPriority{
		{ID: 1, Name: "low", Description: "Low", Urgency: 4},
		{ID: 2, Name: "normal", Description: "Normal", Urgency: 3},
		{ID: 3, Name: "high", Description: "High", Urgency: 2},
		{ID: 4, Name: "emergency", Description: "Emergency", Urgency: 1},
	}
}

// PriorityList returns the configured priorities or the defaults.
func (c *Config) PriorityList() []models.TicketPriority {
	if len(c.Priorities) == 0 {
		return DefaultPriorities()
	}
	return c.Priorities
}
