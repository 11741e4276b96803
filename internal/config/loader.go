package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands ${VAR} environment variables and
// applies the RABBITMQ_* overrides. Unknown keys are an error.
func Load(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg ServiceConfig
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return &cfg, nil
}

// applyEnv lets the variables a RabbitMQ deployment already exports win over
// the file. RABBITMQ_CONNECT_INTERVAL is in milliseconds.
func (c *ServiceConfig) applyEnv(lookup func(string) (string, bool)) error {
	for name, dst := range map[string]*string{
		"RABBITMQ_HOST":     &c.Broker.Host,
		"RABBITMQ_USER":     &c.Broker.User,
		"RABBITMQ_PASSWORD": &c.Broker.Password,
	} {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	for _, o := range []struct {
		name string
		set  func(n int)
	}{
		{"RABBITMQ_PORT", func(n int) { c.Broker.Port = n }},
		{"RABBITMQ_CONNECT_RETRIES", func(n int) { c.Broker.MaxRetries = n }},
		{"RABBITMQ_CONNECT_INTERVAL", func(n int) { c.Broker.RetryInterval = time.Duration(n) * time.Millisecond }},
	} {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q", o.name, v)
		}
		o.set(n)
	}
	return nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*ServiceConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*ServiceConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
