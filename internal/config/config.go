package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/orderfeed/internal/model"
)

// ServiceConfig is the root configuration for an orderfeed instance.
type ServiceConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Directory DirectoryConfig `yaml:"directory"`
	Menu      MenuConfig      `yaml:"menu"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig holds the HTTP and websocket listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WSPath          string        `yaml:"ws_path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // Empty allows any origin
	WriteTimeout    time.Duration `yaml:"write_timeout"`   // Per websocket frame
	PongWait        time.Duration `yaml:"pong_wait"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LoginRateLimit  int           `yaml:"login_rate_limit"` // Attempts per window per IP
	LoginRateWindow time.Duration `yaml:"login_rate_window"`
}

// BrokerConfig holds the AMQP broker settings.
type BrokerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	Prefetch          int           `yaml:"prefetch"`
	PublishTimeout    time.Duration `yaml:"publish_timeout"`
}

// URL builds the AMQP URI. An empty vhost means the default "/".
func (b BrokerConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.User, b.Password),
		Host:   net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
		Path:   "/",
	}
	if b.VHost != "" && b.VHost != "/" {
		u.Path = "/" + b.VHost
	}
	return u.String()
}

// RedisConfig holds the session store settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects and configures the order store.
type DatabaseConfig struct {
	Driver   string   `yaml:"driver"` // postgres or memory
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DirectoryConfig lists the users allowed to log in.
type DirectoryConfig struct {
	Users []UserConfig `yaml:"users"`
}

// UserConfig is one directory entry. PasswordHash is a bcrypt hash.
type UserConfig struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// MenuConfig is the read-only dish catalogue served at GET /dishes.
type MenuConfig struct {
	Dishes []model.Dish `yaml:"dishes"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// String renders the config without secrets, for startup logs.
func (c *ServiceConfig) String() string {
	return fmt.Sprintf("instance=%s addr=%s broker=%s:%d redis=%s database=%s users=%d dishes=%d",
		c.Instance.ID, c.Server.Addr, c.Broker.Host, c.Broker.Port, c.Redis.Addr, c.Database.Driver, len(c.Directory.Users), len(c.Menu.Dishes))
}
