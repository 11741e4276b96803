package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rickgao/orderfeed/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "postgres":
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}

	if err := c.Directory.validate(); err != nil {
		return err
	}
	if err := c.Menu.validate(); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.Metrics.Path == c.Server.WSPath {
		return fmt.Errorf("metrics.path and server.ws_path cannot both be %q", c.Metrics.Path)
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", s.WSPath)
	}
	if s.PongWait < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	if s.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}
	if s.MaxMessageSize < 1 {
		return errors.New("server.max_message_size must be >= 1")
	}
	if s.LoginRateLimit < 1 {
		return errors.New("server.login_rate_limit must be >= 1")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if b.Host == "" {
		return errors.New("broker.host is required")
	}
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535, got %d", b.Port)
	}
	if b.MaxRetries < 1 {
		return errors.New("broker.max_retries must be >= 1")
	}
	if b.RetryInterval <= 0 {
		return errors.New("broker.retry_interval must be > 0")
	}
	if b.ReconnectMaxDelay < b.RetryInterval {
		return fmt.Errorf("broker.reconnect_max_delay (%v) cannot be less than retry_interval (%v)", b.ReconnectMaxDelay, b.RetryInterval)
	}
	if b.Prefetch < 1 {
		return errors.New("broker.prefetch must be >= 1")
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if r.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if r.SessionTTL <= 0 {
		return errors.New("redis.session_ttl must be > 0")
	}
	if r.MaxRetries < 0 {
		return errors.New("redis.max_retries must be >= 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func (m *MenuConfig) validate() error {
	seen := make(map[string]bool, len(m.Dishes))
	for i, d := range m.Dishes {
		prefix := fmt.Sprintf("menu.dishes[%d]", i)
		if d.ID == "" {
			return fmt.Errorf("%s.id is required", prefix)
		}
		if seen[d.ID] {
			return fmt.Errorf("%s.id %q is duplicated", prefix, d.ID)
		}
		seen[d.ID] = true
		if d.Title == "" {
			return fmt.Errorf("%s.title is required", prefix)
		}
		if d.UnitCost < 0 {
			return fmt.Errorf("%s.cost_unit must be >= 0", prefix)
		}
		for j, e := range d.Extras {
			if e.Name == "" || e.Cost < 0 {
				return fmt.Errorf("%s.extras[%d] needs a name and a cost >= 0", prefix, j)
			}
		}
	}
	return nil
}

func (d *DirectoryConfig) validate() error {
	seen := make(map[string]bool, len(d.Users))
	for i, u := range d.Users {
		prefix := fmt.Sprintf("directory.users[%d]", i)
		if u.Email == "" {
			return fmt.Errorf("%s.email is required", prefix)
		}
		if seen[strings.ToLower(u.Email)] {
			return fmt.Errorf("%s.email %q is duplicated", prefix, u.Email)
		}
		seen[strings.ToLower(u.Email)] = true
		if !strings.HasPrefix(u.PasswordHash, "$2") {
			return fmt.Errorf("%s.password_hash must be a bcrypt hash", prefix)
		}
		if !model.Role(u.Role).Valid() {
			return fmt.Errorf("%s.role must be admin, register or kitchen, got %q", prefix, u.Role)
		}
	}
	return nil
}
