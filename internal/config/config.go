package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AUCTIOND_SERVER_PORT.
const EnvPrefix = "AUCTIOND_"

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server" envPrefix:"SERVER_"`
	Database       DatabaseConfig       `yaml:"database" envPrefix:"DATABASE_"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election" envPrefix:"LEADER_ELECTION_"`
	Discord        DiscordConfig        `yaml:"discord" envPrefix:"DISCORD_"`
	Auction        AuctionConfig        `yaml:"auction" envPrefix:"AUCTION_"`
}

// DiscordConfig holds Discord front-end settings.
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Token   string `yaml:"token" env:"TOKEN"`
	GuildID string `yaml:"guild_id" env:"GUILD_ID"`
}

// DatabaseConfig holds ledger storage settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // "memory", "postgres" or "sqlite"
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	DBName   string `yaml:"dbname" env:"DBNAME"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
	Path     string `yaml:"path" env:"PATH"` // sqlite file
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure       bool   `yaml:"insecure" env:"INSECURE"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	LeaseName      string        `yaml:"lease_name" env:"LEASE_NAME"`
	LeaseNamespace string        `yaml:"lease_namespace" env:"LEASE_NAMESPACE"`
	LeaseDuration  time.Duration `yaml:"lease_duration" env:"LEASE_DURATION"`
	RenewDeadline  time.Duration `yaml:"renew_deadline" env:"RENEW_DEADLINE"`
	RetryPeriod    time.Duration `yaml:"retry_period" env:"RETRY_PERIOD"`
}

// AuctionConfig holds game rules that vary per deployment.
type AuctionConfig struct {
	BidTimeout  time.Duration `yaml:"bid_timeout" env:"BID_TIMEOUT"`
	AutoPass    bool          `yaml:"auto_pass" env:"AUTO_PASS"`
	MaxPlayers  int           `yaml:"max_players" env:"MAX_PLAYERS"`
	CatalogPath string        `yaml:"catalog_path" env:"CATALOG_PATH"`
	Seed        int64         `yaml:"seed" env:"SEED"` // 0 picks a random seed
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "memory",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Path:    "auctiond.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Auction: AuctionConfig{
			BidTimeout: 30 * time.Second,
			AutoPass:   true,
			MaxPlayers: 10,
		},
	}
}

// Load reads a YAML configuration file over the defaults, then applies
// AUCTIOND_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "postgres":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"memory\", \"postgres\" or \"sqlite\"", c.Database.Driver)
	}
	if c.Auction.BidTimeout <= 0 {
		return fmt.Errorf("auction.bid_timeout must be positive, got %s", c.Auction.BidTimeout)
	}
	if c.Auction.MaxPlayers < 2 || c.Auction.MaxPlayers > 10 {
		return fmt.Errorf("auction.max_players must be between 2 and 10, got %d", c.Auction.MaxPlayers)
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	return nil
}
