// Package config loads server and client configuration from the
// environment with flag overrides.
package config

import (
	"errors"
	"flag"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds the relay's runtime settings.
type ServerConfig struct {
	ListenAddr     string
	Domain         string
	Env            string
	LogLevel       string
	RequestTimeout time.Duration
	MaxFrameBytes  int64
	PingInterval   time.Duration
}

// ClientConfig holds the tunnel client's runtime settings.
type ClientConfig struct {
	ServerURL string
	Subdomain string
	LocalPort int
	LogLevel  string
}

const (
	defaultServerPort     = 8080
	defaultLocalPort      = 3000
	defaultRequestTimeout = 30 * time.Second
	defaultPingInterval   = 30 * time.Second

	// Maximum inbound frame size on the tunnel control channel.
	defaultMaxFrameBytes = 50 << 20
)

// ParseServerFlags builds a [ServerConfig] from PORT/DOMAIN/NODE_ENV
// environment variables and command-line overrides.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		ListenAddr:     ":" + strconv.Itoa(envIntOrDefault("PORT", defaultServerPort)),
		Domain:         envOrDefault("DOMAIN", ""),
		Env:            envOrDefault("NODE_ENV", "development"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		RequestTimeout: defaultRequestTimeout,
		MaxFrameBytes:  defaultMaxFrameBytes,
		PingInterval:   defaultPingInterval,
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "Public root domain, e.g. example.com")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Per-request forwarding deadline")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Domain = normalizeDomainHost(cfg.Domain)
	if cfg.Domain == "" {
		return cfg, errors.New("missing --domain or DOMAIN")
	}
	if cfg.RequestTimeout <= 0 {
		return cfg, errors.New("request timeout must be > 0")
	}

	return cfg, nil
}

// ParseClientFlags builds a [ClientConfig] from LOCALHOSTED_* environment
// variables and command-line overrides.
func ParseClientFlags(args []string) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL: envOrDefault("LOCALHOSTED_SERVER", ""),
		Subdomain: envOrDefault("LOCALHOSTED_SUBDOMAIN", ""),
		LocalPort: envIntOrDefault("LOCALHOSTED_PORT", defaultLocalPort),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
	}

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Relay URL (e.g. https://example.com)")
	fs.StringVar(&cfg.Subdomain, "subdomain", cfg.Subdomain, "Requested subdomain label")
	fs.IntVar(&cfg.LocalPort, "port", cfg.LocalPort, "Local HTTP port on 127.0.0.1")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		return cfg, errors.New("missing --server or LOCALHOSTED_SERVER")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return cfg, errors.New("invalid server URL")
	}
	if cfg.LocalPort <= 0 || cfg.LocalPort > 65535 {
		return cfg, errors.New("local port must be between 1 and 65535")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func normalizeDomainHost(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if idx := strings.Index(v, "/"); idx >= 0 {
		v = v[:idx]
	}
	if strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		v = parts[0]
	}
	return strings.TrimSuffix(v, ".")
}
