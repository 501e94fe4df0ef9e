package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Core     CoreConfig     `yaml:"core"`
	Events   EventsConfig   `yaml:"events"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// RateLimit is requests per second per caller: the user id when
	// authenticated, otherwise the client IP. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite, mysql, postgres
	DSN          string `yaml:"dsn"`
	LogLevel     string `yaml:"log_level"` // silent, error, warn, info
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// CoreConfig tunes the project access and aggregation layer.
type CoreConfig struct {
	OpTimeout       time.Duration `yaml:"op_timeout"`
	SlugMaxAttempts int           `yaml:"slug_max_attempts"`
	SlugMaxLength   int           `yaml:"slug_max_length"`
	PreviewLimit    int           `yaml:"preview_limit"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	InviteTTLHours  int           `yaml:"invite_ttl_hours"`
	InviteExpiry    string        `yaml:"invite_expiry_cron"`
}

// EventsConfig selects where change notifications go.
type EventsConfig struct {
	Driver        string `yaml:"driver"` // memory, redis, nats
	SubjectPrefix string `yaml:"subject_prefix"`
}

// RedisConfig for the optional asynq event queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			RateLimit: 20,
			RateBurst: 40,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "buildlog.db",
			LogLevel: "warn",
		},
		JWT: JWTConfig{
			Secret:     "buildlog-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Log: LogConfig{
			Level: "info",
		},
		Core: CoreConfig{
			OpTimeout:       10 * time.Second,
			SlugMaxAttempts: 10,
			SlugMaxLength:   50,
			PreviewLimit:    5,
			DefaultPageSize: 20,
			MaxPageSize:     100,
			InviteTTLHours:  7 * 24,
			InviteExpiry:    "@every 1h",
		},
		Events: EventsConfig{
			Driver:        "memory",
			SubjectPrefix: "buildlog.events",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if timeout := os.Getenv("CORE_OP_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Core.OpTimeout = d
		}
	}
	if ttl := os.Getenv("INVITE_TTL_HOURS"); ttl != "" {
		if hours, err := strconv.Atoi(ttl); err == nil {
			c.Core.InviteTTLHours = hours
		}
	}
	if driver := os.Getenv("EVENTS_DRIVER"); driver != "" {
		c.Events.Driver = driver
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

// InviteTTL returns how long a pending invite stays acceptable.
func (c *CoreConfig) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLHours) * time.Hour
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
