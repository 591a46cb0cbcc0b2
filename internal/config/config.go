// Package config loads client and server configuration.
//
// Values are layered: defaults, then an optional YAML file, then a .env file,
// then PULSESYNC_* environment variables, then command line flags.
// Each key is named by the yaml tag of its field; the environment variable is
// PULSESYNC_<KEY> and the flag is --<key> with dashes instead of underscores.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// ClientConfig конфигурация клиента синхронизации
type ClientConfig struct {
	ServerURL               string        `yaml:"server_url" usage:"document service base URL"`
	NATSURL                 string        `yaml:"nats_url" usage:"NATS URL of the live change feed (empty: HTTP long-poll)"`
	DBPath                  string        `yaml:"db_path" usage:"path to the local database"`
	AccessToken             string        `yaml:"access_token" usage:"bearer token for the document service"`
	NodeID                  string        `yaml:"node_id" usage:"device node id (generated when empty)"`
	Kinds                   []string      `yaml:"kinds" usage:"comma separated document kinds to sync (empty: all)"`
	EntitlementPublicKey    string        `yaml:"entitlement_public_key" usage:"base64 ed25519 key verifying entitlement tokens"`
	EncryptionPassphrase    string        `yaml:"encryption_passphrase" usage:"passphrase for at-rest encryption (empty: disabled)"`
	LogLevel                string        `yaml:"log_level" usage:"log level (debug, info, warn, error)"`
	LogFormat               string        `yaml:"log_format" usage:"log format (text, json)"`
	MetricsAddr             string        `yaml:"metrics_addr" usage:"address serving /metrics (empty: disabled)"`
	BatchSize               int           `yaml:"batch_size" usage:"maximum journal entries per push batch"`
	MaxSerializationRetries int           `yaml:"max_serialization_retries" usage:"attempts before a malformed write is dropped"`
	MaxRejectedRetries      int           `yaml:"max_rejected_retries" usage:"rebase attempts before a conflicting write is dropped"`
	PushTimeout             time.Duration `yaml:"push_timeout" usage:"timeout of a single send"`
	BackoffBase             time.Duration `yaml:"backoff_base" usage:"initial retry backoff"`
	BackoffMax              time.Duration `yaml:"backoff_max" usage:"maximum retry backoff"`
	PollWait                time.Duration `yaml:"poll_wait" usage:"long-poll wait of the change feed"`
	EntitlementRefresh      time.Duration `yaml:"entitlement_refresh" usage:"entitlement refresh interval"`
	TombstoneRetention      time.Duration `yaml:"tombstone_retention" usage:"how long acknowledged tombstones are kept"`
	MaintenanceInterval     time.Duration `yaml:"maintenance_interval" usage:"period of purge and quarantine resync"`
}

// ServerConfig конфигурация сервера документов
type ServerConfig struct {
	ListenAddr            string        `yaml:"listen_addr" usage:"HTTP listen address"`
	DBPath                string        `yaml:"db_path" usage:"path to the sqlite database"`
	NATSURL               string        `yaml:"nats_url" usage:"NATS URL for change publication (empty: disabled)"`
	JWTSecret             string        `yaml:"jwt_secret" usage:"HS256 secret of access tokens"`
	EntitlementPrivateKey string        `yaml:"entitlement_private_key" usage:"base64 ed25519 seed signing entitlement tokens"`
	LogLevel              string        `yaml:"log_level" usage:"log level (debug, info, warn, error)"`
	LogFormat             string        `yaml:"log_format" usage:"log format (text, json)"`
	RateLimit             int           `yaml:"rate_limit" usage:"requests per rate window and client"`
	RateWindow            time.Duration `yaml:"rate_window" usage:"rate limit window"`
	AccessTokenTTL        time.Duration `yaml:"access_token_ttl" usage:"lifetime of issued access tokens"`
	ChangeRetention       time.Duration `yaml:"change_retention" usage:"how long tombstones stay in the change feed"`
	PruneInterval         time.Duration `yaml:"prune_interval" usage:"period of tombstone pruning"`
	LongPollMaxWait       time.Duration `yaml:"long_poll_max_wait" usage:"upper bound of the changes long-poll wait"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" usage:"graceful shutdown timeout"`
}

// DefaultClient returns the client configuration defaults
func DefaultClient() *ClientConfig {
	return &ClientConfig{
		ServerURL:               "http://localhost:8080",
		DBPath:                  "pulsesync-client.db",
		LogLevel:                "info",
		LogFormat:               "text",
		BatchSize:               50,
		MaxSerializationRetries: 3,
		MaxRejectedRetries:      5,
		PushTimeout:             10 * time.Second,
		BackoffBase:             500 * time.Millisecond,
		BackoffMax:              time.Minute,
		PollWait:                25 * time.Second,
		EntitlementRefresh:      15 * time.Minute,
		TombstoneRetention:      24 * time.Hour,
		MaintenanceInterval:     time.Minute,
	}
}

// DefaultServer returns the server configuration defaults
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		ListenAddr:      ":8080",
		DBPath:          "pulsesync.db",
		LogLevel:        "info",
		LogFormat:       "text",
		RateLimit:       600,
		RateWindow:      time.Minute,
		AccessTokenTTL:  24 * time.Hour,
		ChangeRetention: 72 * time.Hour,
		PruneInterval:   time.Hour,
		LongPollMaxWait: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	var errs []error

	if err := validateURL("server_url", c.ServerURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if c.NATSURL != "" {
		if err := validateURL("nats_url", c.NATSURL, "nats", "tls"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.MaxSerializationRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_serialization_retries must be positive, got %d", c.MaxSerializationRetries))
	}
	if c.MaxRejectedRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_rejected_retries must be positive, got %d", c.MaxRejectedRetries))
	}
	errs = append(errs, positive(map[string]time.Duration{
		"push_timeout":         c.PushTimeout,
		"backoff_base":         c.BackoffBase,
		"backoff_max":          c.BackoffMax,
		"poll_wait":            c.PollWait,
		"entitlement_refresh":  c.EntitlementRefresh,
		"tombstone_retention":  c.TombstoneRetention,
		"maintenance_interval": c.MaintenanceInterval,
	})...)
	if c.BackoffBase > c.BackoffMax {
		errs = append(errs, fmt.Errorf("backoff_base %s exceeds backoff_max %s", c.BackoffBase, c.BackoffMax))
	}
	errs = append(errs, validateLogging(c.LogLevel, c.LogFormat)...)

	return errors.Join(errs...)
}

// Validate checks the server configuration
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.NATSURL != "" {
		if err := validateURL("nats_url", c.NATSURL, "nats", "tls"); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters"))
	}
	if c.EntitlementPrivateKey == "" {
		errs = append(errs, errors.New("entitlement_private_key is required"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be positive, got %d", c.RateLimit))
	}
	errs = append(errs, positive(map[string]time.Duration{
		"rate_window":        c.RateWindow,
		"access_token_ttl":   c.AccessTokenTTL,
		"change_retention":   c.ChangeRetention,
		"prune_interval":     c.PruneInterval,
		"long_poll_max_wait": c.LongPollMaxWait,
		"shutdown_timeout":   c.ShutdownTimeout,
	})...)
	errs = append(errs, validateLogging(c.LogLevel, c.LogFormat)...)

	return errors.Join(errs...)
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be an absolute %v URL, got %q", key, schemes, raw)
}

func positive(durations map[string]time.Duration) []error {
	var errs []error
	for key, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	return errs
}

func validateLogging(level, format string) []error {
	var errs []error
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if format != "text" && format != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", format))
	}
	return errs
}
