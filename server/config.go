package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded token lifetime defaults
const (
	DefaultAccessTTL  = 10 * time.Minute
	DefaultIDTTL      = 10 * time.Minute
	DefaultCodeTTL    = 5 * time.Minute
	DefaultConsentTTL = 5 * time.Minute
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Consent   ConsentConfig             `yaml:"consent"`
	Clients   []ClientConfig            `yaml:"clients"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Tokens    TokenConfig               `yaml:"tokens"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL         string    `yaml:"public_url"`
	DevListenAddr     string    `yaml:"dev_listen_addr"`
	HTTPListenAddr    string    `yaml:"http_listen_addr"`
	HTTPSListenAddr   string    `yaml:"https_listen_addr"`
	DevMode           bool      `yaml:"dev_mode"`
	SecretsPath       string    `yaml:"secrets_path"`
	ServerID          string    `yaml:"server_id"`
	TLS               TLSConfig `yaml:"tls"`
	TrustProxyHeaders bool      `yaml:"trust_proxy_headers"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
}

// ConsentConfig points authorization requests at the user-facing consent page.
type ConsentConfig struct {
	PageURL string `yaml:"page_url"`
}

// ClientConfig describes a registered OAuth client.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
	Audiences    []string `yaml:"audiences"`
}

// ProviderConfig encapsulates issuer and credentials for a federated identity
// provider, keyed by strategy name in the providers map.
type ProviderConfig struct {
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// TokenConfig overrides the default token lifetimes.
type TokenConfig struct {
	AccessTTL  string `yaml:"access_ttl"`
	IDTokenTTL string `yaml:"id_token_ttl"`
	CodeTTL    string `yaml:"code_ttl"`
	ConsentTTL string `yaml:"consent_ttl"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			ServerID:        "authflowd",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				Email:      "",
				MinVersion: "1.2",
			},
		},
		Consent: ConsentConfig{
			PageURL: "http://127.0.0.1:8080/consent",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHFLOWD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"AUTHFLOWD_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"AUTHFLOWD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"AUTHFLOWD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"AUTHFLOWD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHFLOWD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"AUTHFLOWD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"AUTHFLOWD_SERVER_SECRETS_PATH":      func(v string) { cfg.Server.SecretsPath = v },
		"AUTHFLOWD_SERVER_ID":                func(v string) { cfg.Server.ServerID = v },
		"AUTHFLOWD_CONSENT_PAGE_URL":         func(v string) { cfg.Consent.PageURL = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AccessTokenTTL resolves the configured access token lifetime.
func (c Config) AccessTokenTTL() time.Duration {
	return parseDuration(c.Tokens.AccessTTL, DefaultAccessTTL)
}

// IDTokenTTL resolves the configured id token lifetime.
func (c Config) IDTokenTTL() time.Duration {
	return parseDuration(c.Tokens.IDTokenTTL, DefaultIDTTL)
}

// CodeTTL resolves the configured authorization code lifetime.
func (c Config) CodeTTL() time.Duration {
	return parseDuration(c.Tokens.CodeTTL, DefaultCodeTTL)
}

// ConsentTokenTTL resolves the configured consent token lifetime. A consent
// token only needs to survive the bounce through the consent page.
func (c Config) ConsentTokenTTL() time.Duration {
	return parseDuration(c.Tokens.ConsentTTL, DefaultConsentTTL)
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Consent.PageURL == "" {
		slog.Error("Missing required configuration", "field", "consent.page_url")
		return errors.New("consent.page_url is required")
	}
	if !strings.HasPrefix(c.Consent.PageURL, "http://") && !strings.HasPrefix(c.Consent.PageURL, "https://") {
		slog.Error("Invalid configuration value", "field", "consent.page_url", "value", c.Consent.PageURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("consent.page_url must start with http:// or https://, got: %s", c.Consent.PageURL)
	}

	if len(c.Clients) == 0 {
		slog.Error("No clients configured", "reason", "at least one client must be configured")
		return errors.New("at least one client must be configured")
	}
	for i, client := range c.Clients {
		if client.ClientID == "" {
			slog.Error("Client missing client_id", "index", i)
			return fmt.Errorf("clients[%d]: client_id is required", i)
		}
		if len(client.RedirectURIs) == 0 {
			slog.Error("Client missing redirect URIs", "client_id", client.ClientID, "index", i)
			return fmt.Errorf("clients[%d] (%s): at least one redirect_uri is required", i, client.ClientID)
		}
		for j, uri := range client.RedirectURIs {
			if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
				slog.Error("Invalid redirect URI", "client_id", client.ClientID, "redirect_uri", uri, "index", j, "reason", "must be a valid HTTP(S) URL")
				return fmt.Errorf("clients[%d] (%s): redirect_uris[%d] must start with http:// or https://, got: %s", i, client.ClientID, j, uri)
			}
		}
	}

	for name, provider := range c.Providers {
		if provider.Issuer == "" {
			slog.Error("Provider missing issuer", "provider", name)
			return fmt.Errorf("providers.%s.issuer is required", name)
		}
		if provider.ClientID == "" {
			slog.Error("Provider missing client_id", "provider", name)
			return fmt.Errorf("providers.%s.client_id is required", name)
		}
	}

	for field, val := range map[string]string{
		"tokens.access_ttl":   c.Tokens.AccessTTL,
		"tokens.id_token_ttl": c.Tokens.IDTokenTTL,
		"tokens.code_ttl":     c.Tokens.CodeTTL,
		"tokens.consent_ttl":  c.Tokens.ConsentTTL,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			slog.Error("Invalid token lifetime", "field", field, "value", val, "error", err)
			return fmt.Errorf("%s: invalid duration '%s': %w", field, val, err)
		}
	}

	return nil
}
