// Package config loads the service configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/atonsvc/geo"
)

const Version = "0.1"

const (
	EnvDBPassword  = "ATONSVC_DB_PASSWORD"
	EnvKeyPassword = "ATONSVC_KEY_PASSWORD"
)

type ServerConfig struct {
	Host               string `toml:"host"`
	Port               string `toml:"port"`
	HandleCORS         bool   `toml:"handle_cors"`
	RequestTimeout     string `toml:"request_timeout"`
	MaxRequestBodySize int64  `toml:"max_request_body_size"`
}

type DBConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	DBName           string `toml:"dbname"`
	User             string `toml:"user"`
	Password         string `toml:"password"`
	SSLMode          string `toml:"sslmode"`
	MaxOpenConns     int    `toml:"max_open_conns"`
	StatementTimeout string `toml:"statement_timeout"`
}

// FeedConfig describes the AtoN change stream.
type FeedConfig struct {
	Enabled         bool   `toml:"enabled"`
	URL             string `toml:"url"`
	Stream          string `toml:"stream"`
	Subject         string `toml:"subject"`
	Durable         string `toml:"durable"`
	Subset          string `toml:"subset"` // WKT, empty for everything
	DeletionHandler bool   `toml:"deletion_handler"`
	Parallelism     int    `toml:"parallelism"`
	MaxReconnects   int    `toml:"max_reconnects"`
}

type SecomConfig struct {
	RegistryURL           string `toml:"registry_url"`
	RequestTimeout        string `toml:"request_timeout"`
	NotifyTimeout         string `toml:"notify_timeout"`
	DisableCertValidation bool   `toml:"disable_cert_validation"`
}

type KeysConfig struct {
	Path     string `toml:"path"`
	Password string `toml:"password"`
}

type AuditConfig struct {
	Enabled       bool   `toml:"enabled"`
	Dir           string `toml:"dir"`
	FlushInterval int    `toml:"flush_interval"`
}

type WorkersConfig struct {
	Dispatchers     int    `toml:"dispatchers"`
	QueueSize       int    `toml:"queue_size"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

// ConfigParam holds all configuration parameters of the service
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Feed    FeedConfig    `toml:"feed"`
	Secom   SecomConfig   `toml:"secom"`
	Keys    KeysConfig    `toml:"keys"`
	Audit   AuditConfig   `toml:"audit"`
	Workers WorkersConfig `toml:"workers"`
	Log     LogConfig     `toml:"log"`
}

var cfg *ConfigParam

// Config returns the loaded configuration, or nil before LoadConfig.
func Config() *ConfigParam {
	return cfg
}

// DSN returns the database connection string
func (c *ConfigParam) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode)
}

func (c *ConfigParam) ListenAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (s *ServerConfig) GetRequestTimeout() time.Duration {
	return mustDuration(s.RequestTimeout)
}

func (d *DBConfig) GetStatementTimeout() time.Duration {
	return mustDuration(d.StatementTimeout)
}

func (s *SecomConfig) GetRequestTimeout() time.Duration {
	return mustDuration(s.RequestTimeout)
}

func (s *SecomConfig) GetNotifyTimeout() time.Duration {
	return mustDuration(s.NotifyTimeout)
}

func (w *WorkersConfig) GetShutdownTimeout() time.Duration {
	return mustDuration(w.ShutdownTimeout)
}

// SubsetGeometry parses the feed subset. Validation has already rejected
// malformed WKT, so a parse failure here yields nil.
func (f *FeedConfig) SubsetGeometry() orb.Geometry {
	if strings.TrimSpace(f.Subset) == "" {
		return nil
	}
	g, err := geo.ParseWKT(f.Subset)
	if err != nil {
		return nil
	}
	return g
}

// ParseDuration accepts Go durations ("30s", "1m30s") and whole days or
// years ("7d", "1y").
func ParseDuration(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)
	if d, err := time.ParseDuration(input); err == nil {
		return d, nil
	}
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}
	unit := input[len(input)-1:]
	value, err := strconv.Atoi(input[:len(input)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}
	switch unit {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "y":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}

func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", s, err))
	}
	return d
}

// LoadConfig reads filename, overlays secrets from the environment and a
// .env file next to it, then validates the result.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	c := &ConfigParam{}
	applyDefaults(c)
	if _, err := toml.Decode(string(content), c); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}

	_ = godotenv.Load(filepath.Join(filepath.Dir(filename), ".env")) // no error if .env doesn't exist
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv(EnvKeyPassword); v != "" {
		c.Keys.Password = v
	}

	if err := ValidateConfig(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	cfg = c
	return nil
}

func applyDefaults(c *ConfigParam) {
	c.Server.Host = "0.0.0.0"
	c.Server.RequestTimeout = "30s"
	c.Server.MaxRequestBodySize = 10 << 20
	c.DB.SSLMode = "disable"
	c.DB.StatementTimeout = "5s"
	c.Feed.DeletionHandler = true
	c.Feed.Durable = "atonsvc"
	c.Feed.Parallelism = 8
	c.Feed.MaxReconnects = 60
	c.Secom.RequestTimeout = "30s"
	c.Secom.NotifyTimeout = "10s"
	c.Audit.FlushInterval = 1
	c.Workers.Dispatchers = 4
	c.Workers.QueueSize = 256
	c.Workers.ShutdownTimeout = "30s"
	c.Log.Level = "info"
}

// ValidateConfig checks if all required configuration values are present and valid
func ValidateConfig(c *ConfigParam) error {
	for _, validate := range []func(*ConfigParam) error{
		validateFormatVersion,
		validateServerConfig,
		validateDBConfig,
		validateFeedConfig,
		validateSecomConfig,
		validateKeysConfig,
		validateAuditConfig,
		validateWorkersConfig,
	} {
		if err := validate(c); err != nil {
			return err
		}
	}
	return nil
}

func validateFormatVersion(c *ConfigParam) error {
	if c.FormatVersion != Version {
		return fmt.Errorf("unsupported config file format version: %s", c.FormatVersion)
	}
	return nil
}

func validateServerConfig(c *ConfigParam) error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, err := ParseDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("invalid server.request_timeout: %v", err)
	}
	return nil
}

func validateDBConfig(c *ConfigParam) error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if c.DB.DBName == "" {
		return fmt.Errorf("db.dbname is required")
	}
	if c.DB.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if c.DB.Password == "" {
		return fmt.Errorf("db.password is required, set it in the file or %s", EnvDBPassword)
	}
	if _, err := ParseDuration(c.DB.StatementTimeout); err != nil {
		return fmt.Errorf("invalid db.statement_timeout: %v", err)
	}
	return nil
}

func validateFeedConfig(c *ConfigParam) error {
	if !c.Feed.Enabled {
		return nil
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.Stream == "" {
		return fmt.Errorf("feed.stream is required")
	}
	if c.Feed.Subject == "" {
		return fmt.Errorf("feed.subject is required")
	}
	if strings.TrimSpace(c.Feed.Subset) != "" {
		if _, err := geo.ParseWKT(c.Feed.Subset); err != nil {
			return fmt.Errorf("invalid feed.subset: %v", err)
		}
	}
	return nil
}

func validateSecomConfig(c *ConfigParam) error {
	if c.Secom.RegistryURL == "" {
		return fmt.Errorf("secom.registry_url is required")
	}
	if _, err := ParseDuration(c.Secom.RequestTimeout); err != nil {
		return fmt.Errorf("invalid secom.request_timeout: %v", err)
	}
	if _, err := ParseDuration(c.Secom.NotifyTimeout); err != nil {
		return fmt.Errorf("invalid secom.notify_timeout: %v", err)
	}
	return nil
}

func validateKeysConfig(c *ConfigParam) error {
	if c.Keys.Path == "" {
		userHomeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting user home directory: %v", err)
		}
		c.Keys.Path = filepath.Join(userHomeDir, ".atonsvc", "signing-key.json")
	}
	if c.Keys.Password == "" {
		return fmt.Errorf("keys.password is required, set it in the file or %s", EnvKeyPassword)
	}
	return nil
}

func validateAuditConfig(c *ConfigParam) error {
	if c.Audit.Enabled && c.Audit.Dir == "" {
		userHomeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting user home directory: %v", err)
		}
		c.Audit.Dir = filepath.Join(userHomeDir, ".atonsvc", "audit")
	}
	return nil
}

func validateWorkersConfig(c *ConfigParam) error {
	if c.Workers.Dispatchers <= 0 {
		return fmt.Errorf("workers.dispatchers must be positive")
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("workers.queue_size must be positive")
	}
	if _, err := ParseDuration(c.Workers.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid workers.shutdown_timeout: %v", err)
	}
	return nil
}
