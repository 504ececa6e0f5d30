// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package config loads layered service configuration: built-in defaults,
// then an optional YAML file, then KEYFOLD_* environment variables, then
// command-line flags. Later layers win.
package config

import (
	"net/url"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keyfold/keyfold/internal/auth"
)

const envPrefix = "KEYFOLD_"

// Default values applied before any other layer.
const (
	DefaultListenAddr  = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
)

// OAuthProvider holds one provider's client credentials.
type OAuthProvider struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// Email configures outbound reset mail.
type Email struct {
	Region string `koanf:"region"`
	From   string `koanf:"from"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	DatabaseURL string `koanf:"database_url"`

	// BaseURL is the public origin used in reset links and OAuth
	// callback registrations.
	BaseURL string `koanf:"base_url"`

	SessionSigningKey string   `koanf:"session_signing_key"`
	AllowedOrigins    []string `koanf:"allowed_origins"`
	LogFormat         string   `koanf:"log_format"`

	// Dev swaps postgres for the in-memory store and SES for log-only
	// mail delivery.
	Dev bool `koanf:"dev"`

	// AutoLinkByEmail attaches a verified OAuth identity to an existing
	// account with the same email instead of creating a new account.
	AutoLinkByEmail bool `koanf:"auto_link_by_email"`

	Email Email                    `koanf:"email"`
	OAuth map[string]OAuthProvider `koanf:"oauth"`
}

// Load builds the configuration from all layers. path may be empty; flags
// may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"listen_addr":  DefaultListenAddr,
		"metrics_addr": DefaultMetricsAddr,
		"log_format":   DefaultLogFormat,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, oops.Code(auth.CodeInternal).Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(auth.CodeInternal).
				With("path", path).
				Wrapf(err, "load config file")
		}
	}

	// KEYFOLD_SESSION_SIGNING_KEY -> session_signing_key,
	// KEYFOLD_OAUTH__GOOGLE__CLIENT_ID -> oauth.google.client_id.
	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.Code(auth.CodeInternal).Wrap(err)
	}

	if flags != nil {
		// Flag names use dashes; config keys use underscores.
		flagProvider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(flagProvider, nil); err != nil {
			return nil, oops.Code(auth.CodeInternal).Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(auth.CodeInternal).Wrapf(err, "unmarshal config")
	}
	return &cfg, nil
}

// Validate checks that the configuration can run a server.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return oops.Code(auth.CodeValidation).Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code(auth.CodeValidation).
			With("log_format", c.LogFormat).
			Errorf("log_format must be 'json' or 'text'")
	}
	if c.SessionSigningKey == "" {
		return oops.Code(auth.CodeValidation).Errorf("session_signing_key is required")
	}
	if !c.Dev && c.DatabaseURL == "" {
		return oops.Code(auth.CodeValidation).Errorf("database_url is required outside dev mode")
	}
	if c.BaseURL == "" {
		return oops.Code(auth.CodeValidation).Errorf("base_url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return oops.Code(auth.CodeValidation).
			With("base_url", c.BaseURL).
			Errorf("base_url must be an absolute URL")
	}
	if !c.Dev && c.Email.From == "" {
		return oops.Code(auth.CodeValidation).Errorf("email.from is required outside dev mode")
	}
	return nil
}
