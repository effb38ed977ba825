package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig holds settings for the relay server runtime.
type ServerConfig struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	TCPAddr           string        `env:"TCP_ADDR"`
	Env               string        `env:"ENV" envDefault:"dev"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	EmptyRooms        string        `env:"EMPTY_ROOMS" envDefault:"delete"`
	SingleRoom        bool          `env:"SINGLE_ROOM" envDefault:"true"`
	RequireKnownRooms bool          `env:"REQUIRE_KNOWN_ROOMS" envDefault:"false"`
	SendBuffer        int           `env:"SEND_BUFFER" envDefault:"64"`
	MaxFrameBytes     int           `env:"MAX_FRAME_BYTES" envDefault:"1048576"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSAllow         []string      `env:"CORS_ALLOW" envSeparator:","`

	Database DatabaseConfig
	Bus      BusConfig
	JWT      JWTConfig
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL     string `env:"SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	Token         string `env:"TOKEN"`
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"/"`
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Driver string `env:"STORAGE_DRIVER" envDefault:"none"`
	Path   string `env:"DB_PATH" envDefault:"slashrelay.db"`
	PGURL  string `env:"PG_URL"`
}

// BusConfig selects the cross-instance message bus.
type BusConfig struct {
	Driver    string `env:"BUS_DRIVER" envDefault:"none"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`
	NATSURL   string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Subject   string `env:"BUS_SUBJECT" envDefault:"slashrelay.rooms"`
}

// JWTConfig defines token verification and issuance parameters.
type JWTConfig struct {
	Secret      string        `env:"JWT_SECRET"`
	Issuer      string        `env:"JWT_ISSUER" envDefault:"slashrelay"`
	Expiration  time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`
	RequireAuth bool          `env:"REQUIRE_AUTH" envDefault:"false"`
}

// Enabled reports whether tokens are verified at all.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

const prefix = "RELAY_"

// LoadServerConfig builds the server configuration from RELAY_* environment
// variables.
func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return ServerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c ServerConfig) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "none", "sqlite":
	case "postgres":
		if c.Database.PGURL == "" {
			return fmt.Errorf("config: RELAY_PG_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Database.Driver)
	}

	switch strings.ToLower(c.Bus.Driver) {
	case "", "none", "redis", "nats":
	default:
		return fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver)
	}

	if c.JWT.RequireAuth && !c.JWT.Enabled() {
		return fmt.Errorf("config: RELAY_REQUIRE_AUTH needs RELAY_JWT_SECRET")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: RELAY_SEND_BUFFER must be positive")
	}
	if c.RequireKnownRooms && c.StorageDriver() == "none" {
		return fmt.Errorf("config: RELAY_REQUIRE_KNOWN_ROOMS needs a storage driver")
	}
	return nil
}

// StorageDriver returns the normalized storage driver name.
func (c ServerConfig) StorageDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if driver == "" {
		return "none"
	}
	return driver
}

// BusDriver returns the normalized bus driver name.
func (c ServerConfig) BusDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Bus.Driver))
	if driver == "" {
		return "none"
	}
	return driver
}

// IsProduction reports whether the server runs with production defaults.
func (c ServerConfig) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// LoadClientConfig builds the client configuration from RELAY_* environment
// variables.
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Prefix returns the first rune of the configured command prefix.
func (c ClientConfig) Prefix() rune {
	runes := []rune(c.CommandPrefix)
	if len(runes) == 0 {
		return '/'
	}
	return runes[0]
}
