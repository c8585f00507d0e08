package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/migadu/milterfrom/consts"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output        string `toml:"output"`         // Log output: "stderr", "stdout", "syslog", or file path
	Format        string `toml:"format"`         // Log format: "json" or "console"
	Level         string `toml:"level"`          // Log level: "debug", "info", "warn", "error"
	HashAddresses bool   `toml:"hash_addresses"` // Log a BLAKE3 digest instead of sender addresses
}

// MilterConfig holds the milter listener configuration.
type MilterConfig struct {
	// Socket is a libmilter style connection spec: "unix:/path", "local:/path",
	// "inet:port@host", "inet6:port@host" or a bare path to a unix socket.
	Socket              string   `toml:"socket"`
	SocketMode          string   `toml:"socket_mode"` // Octal permissions for unix sockets, e.g. "0660"
	PidFile             string   `toml:"pid_file"`
	Daemonize           bool     `toml:"daemonize"`
	ReadTimeout         string   `toml:"read_timeout"`
	WriteTimeout        string   `toml:"write_timeout"`
	MaxConnections      int      `toml:"max_connections"`        // Maximum concurrent MTA connections (0 = unlimited)
	MaxConnectionsPerIP int      `toml:"max_connections_per_ip"` // Maximum connections per MTA address (0 = unlimited)
	TrustedNetworks     []string `toml:"trusted_networks"`       // Networks exempt from the per-IP limit
	MaxTransactions     int      `toml:"max_transactions"`       // Maximum in-flight mail transactions (0 = unlimited)
}

// PolicyConfig holds the reply sent when envelope and header sender disagree.
type PolicyConfig struct {
	RejectCode   int    `toml:"reject_code"`
	RejectStatus string `toml:"reject_status"`
	RejectText   string `toml:"reject_text"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Milter  MilterConfig  `toml:"milter"`
	Policy  PolicyConfig  `toml:"policy"`
	Metrics MetricsConfig `toml:"metrics"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Milter: MilterConfig{
			SocketMode:   "0660",
			ReadTimeout:  "10s",
			WriteTimeout: "10s",
		},
		Policy: PolicyConfig{
			RejectCode:   550,
			RejectStatus: "5.7.1",
			RejectText:   "Rejected due to unmatching envelope and header sender.",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9465",
			Path:    "/metrics",
		},
	}
}

// GetReadTimeout parses the read timeout duration
func (c *MilterConfig) GetReadTimeout() (time.Duration, error) {
	return parseDuration(c.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout parses the write timeout duration
func (c *MilterConfig) GetWriteTimeout() (time.Duration, error) {
	return parseDuration(c.WriteTimeout, 10*time.Second)
}

// GetSocketMode parses the octal unix socket mode.
func (c *MilterConfig) GetSocketMode() (os.FileMode, error) {
	if c.SocketMode == "" {
		return 0660, nil
	}
	mode, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket_mode %q: %w", c.SocketMode, err)
	}
	if mode > 0777 {
		return 0, fmt.Errorf("invalid socket_mode %q: out of range", c.SocketMode)
	}
	return os.FileMode(mode), nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", value)
	}
	return d, nil
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	if c.Milter.Socket == "" {
		return fmt.Errorf("milter.socket: %w: missing connection spec", consts.ErrInvalidListenAddress)
	}
	if _, _, err := ParseListenAddress(c.Milter.Socket); err != nil {
		return fmt.Errorf("milter.socket: %w", err)
	}
	if _, err := c.Milter.GetSocketMode(); err != nil {
		return fmt.Errorf("milter.socket_mode: %w", err)
	}
	if _, err := c.Milter.GetReadTimeout(); err != nil {
		return fmt.Errorf("milter.read_timeout: %w", err)
	}
	if _, err := c.Milter.GetWriteTimeout(); err != nil {
		return fmt.Errorf("milter.write_timeout: %w", err)
	}
	if c.Milter.MaxConnections < 0 || c.Milter.MaxConnectionsPerIP < 0 || c.Milter.MaxTransactions < 0 {
		return fmt.Errorf("milter: connection and transaction limits must not be negative")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return fmt.Errorf("metrics.addr: required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path: must start with '/', got %q", c.Metrics.Path)
		}
	}
	return nil
}

// Validate checks that the reject reply is a permanent failure with a
// matching enhanced status code (RFC 3463 class 5).
func (p *PolicyConfig) Validate() error {
	if p.RejectCode < 500 || p.RejectCode > 599 {
		return fmt.Errorf("%w: reject_code %d is not a permanent (5xx) reply", consts.ErrInvalidReply, p.RejectCode)
	}
	parts := strings.Split(p.RejectStatus, ".")
	if len(parts) != 3 || parts[0] != "5" {
		return fmt.Errorf("%w: reject_status %q is not a 5.x.y enhanced status code", consts.ErrInvalidReply, p.RejectStatus)
	}
	for _, part := range parts[1:] {
		if n, err := strconv.Atoi(part); err != nil || n < 0 || n > 999 {
			return fmt.Errorf("%w: reject_status %q is not a 5.x.y enhanced status code", consts.ErrInvalidReply, p.RejectStatus)
		}
	}
	if strings.ContainsAny(p.RejectText, "\r\n") {
		return fmt.Errorf("%w: reject_text must be a single line", consts.ErrInvalidReply)
	}
	return nil
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace from all string fields.
// Unknown keys are logged as warnings and ignored.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return enhanceConfigError(err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// enhanceConfigError adds hints for common TOML mistakes.
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "has already been defined") {
		return fmt.Errorf("%w\n\nHINT: You have a duplicate configuration key in your TOML file.\n"+
			"Please check your configuration file and remove or comment out the duplicate entry.", err)
	}

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: Invalid boolean value in your TOML configuration file\n"+
			"In TOML, boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - All brackets and braces are balanced\n"+
			"  - Section headers use [section] format", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			} else {
				trimStringFields(elem)
			}
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if field.CanSet() {
				trimStringFields(field)
			}
		}

	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
