package server

import (
	"context"
	"time"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/model"
)

// SessionHeader and SessionParam carry the session token.
const (
	SessionHeader = "session-id"
	SessionParam  = "session_id"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string
	WSPath          string
	MetricsPath     string
	AllowedOrigins  []string // Empty allows any origin
	Client          connection.ClientConfig
	ShutdownTimeout time.Duration
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            config.DefaultServerAddr,
		WSPath:          config.DefaultWSPath,
		MetricsPath:     config.DefaultMetricsPath,
		Client:          connection.DefaultClientConfig(),
		ShutdownTimeout: config.DefaultShutdownTimeout,
		LoginRateLimit:  config.DefaultLoginRateLimit,
		LoginRateWindow: config.DefaultLoginRateWindow,
	}
}

// ConfigFrom builds a Config from the service configuration.
func ConfigFrom(cfg *config.ServiceConfig) Config {
	s := cfg.Server
	client := connection.DefaultClientConfig()
	client.WriteTimeout = s.WriteTimeout
	client.PongWait = s.PongWait
	client.PingPeriod = s.PongWait * 9 / 10
	client.SendBuffer = s.SendBuffer
	client.MaxMessageSize = s.MaxMessageSize

	return Config{
		Addr:            s.Addr,
		WSPath:          s.WSPath,
		MetricsPath:     cfg.Metrics.Path,
		AllowedOrigins:  s.AllowedOrigins,
		Client:          client,
		ShutdownTimeout: s.ShutdownTimeout,
		LoginRateLimit:  s.LoginRateLimit,
		LoginRateWindow: s.LoginRateWindow,
	}
}

// SessionValidator is the Session Gate.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (model.Session, error)
}

// SessionManager creates and ends sessions.
type SessionManager interface {
	Create(ctx context.Context, email string, role model.Role) (string, model.Session, error)
	Extend(ctx context.Context, token string) (model.Session, error)
	Delete(ctx context.Context, token string) (bool, error)
}

// Authenticator checks login credentials.
type Authenticator interface {
	Authenticate(email, password string) (model.Role, string, error)
}

// OrderService is the order mutation path.
type OrderService interface {
	Create(ctx context.Context, order model.Order) (model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (model.Order, error)
	Get(ctx context.Context, id string) (model.Order, error)
	List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
}

// BrokerStatus reports whether the broker link is up.
type BrokerStatus interface {
	IsConnected() bool
}

// Check is a named dependency probe for /health.
type Check func(ctx context.Context) error

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Gate      SessionValidator
	Sessions  SessionManager
	Directory Authenticator
	Orders    OrderService
	Registry  *connection.Registry
	Broker    BrokerStatus
	Checks    map[string]Check // e.g. "redis", "postgres"
	Menu      []model.Dish
}
