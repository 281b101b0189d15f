package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bountyforge/bountyforge-ledger/internal/address"
	"github.com/bountyforge/bountyforge-ledger/internal/protocol"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config captures runtime settings for a ledger node.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
		MaxRetries  int    `yaml:"max_retries"`
		BoltPath    string `yaml:"bolt_path"`
	} `yaml:"storage"`

	Ledger struct {
		ProgramID address.Address `yaml:"program_id"`
	} `yaml:"ledger"`

	Keys struct {
		SigningPrivateKeyPath string `yaml:"signing_private_key_path"`
		SigningPublicKeyPath  string `yaml:"signing_public_key_path"`
	} `yaml:"keys"`

	Security struct {
		RequireSignedRequests   *bool    `yaml:"require_signed_requests"`
		SignatureMaxSkewSeconds int      `yaml:"signature_max_skew_seconds"`
		EnforceSecureTLS        *bool    `yaml:"enforce_secure_transport"`
		EnableIPAllow           *bool    `yaml:"enable_ip_allow_list"`
		TrustedCIDRs            []string `yaml:"trusted_cidrs"`
	} `yaml:"security"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
		Level   string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads and validates the ledger server config.
func Load(path string) (*Config, error) {
	return load(path, true)
}

// LoadImport is Load without the signing key requirement; the importer
// writes records but never signs acks.
func LoadImport(path string) (*Config, error) {
	return load(path, false)
}

func load(path string, requireKeys bool) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(requireKeys); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 20
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 12
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Storage.MaxRetries <= 0 {
		c.Storage.MaxRetries = 5
	}
	if c.Ledger.ProgramID.IsZero() {
		c.Ledger.ProgramID = protocol.DefaultProgramID
	}
	if c.Security.RequireSignedRequests == nil {
		c.Security.RequireSignedRequests = boolPtr(true)
	}
	if c.Security.SignatureMaxSkewSeconds <= 0 {
		c.Security.SignatureMaxSkewSeconds = 300
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Security.EnableIPAllow == nil {
		c.Security.EnableIPAllow = boolPtr(false)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "bountyforge-ledger"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate(requireKeys bool) error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
		}
	case DriverBolt:
		if c.Storage.BoltPath == "" {
			return errors.New("storage.bolt_path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of postgres|bolt, got %q", c.Storage.Driver)
	}
	if c.Storage.MinConns > c.Storage.MaxConns {
		return errors.New("storage.min_conns must not exceed storage.max_conns")
	}
	if requireKeys {
		if c.Keys.SigningPrivateKeyPath == "" {
			return errors.New("keys.signing_private_key_path is required")
		}
		if c.Keys.SigningPublicKeyPath == "" {
			return errors.New("keys.signing_public_key_path is required")
		}
	}
	if !*c.Security.RequireSignedRequests {
		host, _, err := net.SplitHostPort(strings.TrimSpace(c.Server.Listen))
		if err != nil || !isLoopbackHost(host) {
			return errors.New("server.listen must be a loopback address when require_signed_requests is disabled")
		}
	}
	if *c.Security.EnableIPAllow && len(c.Security.TrustedCIDRs) == 0 {
		return errors.New("security.trusted_cidrs is required when ip allow list is enabled")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Storage.BoltPath = os.ExpandEnv(strings.TrimSpace(c.Storage.BoltPath))
	c.Keys.SigningPrivateKeyPath = os.ExpandEnv(strings.TrimSpace(c.Keys.SigningPrivateKeyPath))
	c.Keys.SigningPublicKeyPath = os.ExpandEnv(strings.TrimSpace(c.Keys.SigningPublicKeyPath))
}
