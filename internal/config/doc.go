// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation, so secrets and per-deployment knobs such as the broker's
// connect retries can come from the environment.
package config
