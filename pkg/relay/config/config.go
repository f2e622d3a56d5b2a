package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Upstream websocket endpoint of the speech service. The API key is sent
	// as a query parameter on dial.
	UpstreamURL string
	UpstreamKey string

	// Websocket limits.
	MaxMessageBytes  int64
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXLINGUA_RELAY_ADDR", ":8080"),
		UpstreamURL:         envOr("VOXLINGUA_UPSTREAM_URL", ""),
		UpstreamKey:         envOr("VOXLINGUA_UPSTREAM_KEY", ""),
		MaxMessageBytes:     envInt64Or("VOXLINGUA_RELAY_MAX_MESSAGE_BYTES", 4<<20), // 4 MiB
		HandshakeTimeout:    envDurationOr("VOXLINGUA_RELAY_HANDSHAKE_TIMEOUT", 10*time.Second),
		WriteTimeout:        envDurationOr("VOXLINGUA_RELAY_WRITE_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOXLINGUA_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXLINGUA_RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return Config{}, fmt.Errorf("VOXLINGUA_UPSTREAM_URL must be set")
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return Config{}, fmt.Errorf("VOXLINGUA_UPSTREAM_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(cfg.UpstreamKey) == "" {
		return Config{}, fmt.Errorf("VOXLINGUA_UPSTREAM_KEY must be set")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXLINGUA_RELAY_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINGUA_RELAY_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINGUA_RELAY_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXLINGUA_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXLINGUA_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// DialURL returns the upstream URL with the API key attached.
func (c Config) DialURL() string {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return c.UpstreamURL
	}
	q := u.Query()
	q.Set("key", c.UpstreamKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
