package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultServerAddr        = ":8080"
	DefaultWSPath            = "/ws/orders"
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultSendBuffer        = 256
	DefaultMaxMessageSize    = 4096
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultLoginRateLimit    = 10
	DefaultLoginRateWindow   = time.Minute
	DefaultBrokerPort        = 5672
	DefaultBrokerUser        = "guest"
	DefaultBrokerPassword    = "guest"
	DefaultBrokerRetries     = 10
	DefaultBrokerRetryDelay  = 3 * time.Second
	DefaultReconnectMaxDelay = 60 * time.Second
	DefaultPrefetch          = 32
	DefaultPublishTimeout    = 5 * time.Second
	DefaultRedisAddr         = "localhost:6379"
	DefaultKeyPrefix         = "session:"
	DefaultSessionTTL        = time.Hour
	DefaultRedisRetries      = 2
	DefaultRedisBackoff      = 50 * time.Millisecond
	DefaultRedisTimeout      = 2 * time.Second
	DefaultDatabaseDriver    = "postgres"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultMetricsPath       = "/metrics"
)

func (c *ServiceConfig) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = DefaultPongWait
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.LoginRateLimit == 0 {
		c.Server.LoginRateLimit = DefaultLoginRateLimit
	}
	if c.Server.LoginRateWindow == 0 {
		c.Server.LoginRateWindow = DefaultLoginRateWindow
	}

	// Broker defaults
	if c.Broker.Port == 0 {
		c.Broker.Port = DefaultBrokerPort
	}
	if c.Broker.User == "" {
		c.Broker.User = DefaultBrokerUser
	}
	if c.Broker.Password == "" {
		c.Broker.Password = DefaultBrokerPassword
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = DefaultBrokerRetries
	}
	if c.Broker.RetryInterval == 0 {
		c.Broker.RetryInterval = DefaultBrokerRetryDelay
	}
	if c.Broker.ReconnectMaxDelay == 0 {
		c.Broker.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Broker.Prefetch == 0 {
		c.Broker.Prefetch = DefaultPrefetch
	}
	if c.Broker.PublishTimeout == 0 {
		c.Broker.PublishTimeout = DefaultPublishTimeout
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultKeyPrefix
	}
	if c.Redis.SessionTTL == 0 {
		c.Redis.SessionTTL = DefaultSessionTTL
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = DefaultRedisRetries
	}
	if c.Redis.RetryBackoff == 0 {
		c.Redis.RetryBackoff = DefaultRedisBackoff
	}
	if c.Redis.Timeout == 0 {
		c.Redis.Timeout = DefaultRedisTimeout
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
