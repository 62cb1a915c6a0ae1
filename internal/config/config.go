package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/getsops/sops/v3/decrypt"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted in StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverGorm     = "gorm"
	DriverKuzu     = "kuzu"
	DriverRedis    = "redis"
	DriverSpanner  = "spanner"
)

// Defaults applied by Load when a value is absent.
const (
	DefaultAddr     = ":8080"
	DefaultLogLevel = "info"
	DefaultExchange = "roster.users"
	DefaultRedis    = "localhost:6379"
)

// Config holds service settings loaded from roster.yml.
type Config struct {
	Addr          string       `yaml:"addr,omitempty"`
	MCPAddr       string       `yaml:"mcpAddr,omitempty"`
	LogLevel      string       `yaml:"logLevel,omitempty"`
	SessionSecret string       `yaml:"sessionSecret,omitempty"`
	Store         StoreConfig  `yaml:"store,omitempty"`
	Events        EventsConfig `yaml:"events,omitempty"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"`

	// DSN is the PostgreSQL connection string for the postgres and gorm drivers.
	DSN string `yaml:"dsn,omitempty"`

	// KuzuPath is the on-disk database directory. Empty means in-memory.
	KuzuPath string `yaml:"kuzuPath,omitempty"`

	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDB,omitempty"`
	RedisPrefix   string `yaml:"redisPrefix,omitempty"`

	// SpannerDatabase is projects/P/instances/I/databases/D.
	SpannerDatabase string `yaml:"spannerDatabase,omitempty"`
}

// EventsConfig controls lifecycle event publishing. An empty AMQPURL
// disables it.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqpURL,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
}

var (
	plainNames     = []string{"roster.yml", "roster.yaml"}
	encryptedNames = []string{"roster.enc.yml", "roster.enc.yaml"}
)

// Load reads roster.yml or roster.yaml from dir, falling back to a
// SOPS-encrypted roster.enc.yml. A missing file yields defaults, not an
// error. Values from a .env file in dir and then from ROSTER_* environment
// variables override the file; an empty variable counts as unset. The
// result is validated.
func Load(dir string) (*Config, error) {
	cfg, err := readFile(dir)
	if err != nil {
		return nil, err
	}

	dotenv, err := readDotenv(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(dir string) (*Config, error) {
	for _, name := range plainNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		return parse(name, data)
	}
	for _, name := range encryptedNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		plain, err := decrypt.Data(data, "yaml")
		if err != nil {
			return nil, fmt.Errorf("config: decrypt %s: %w", name, err)
		}
		return parse(name, plain)
	}
	return &Config{}, nil
}

func parse(name string, data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", name, err)
	}
	return &cfg, nil
}

// readDotenv returns the variables in path, or nothing if it does not exist.
// The process environment is left untouched.
func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return vars, nil
}

// applyEnv overrides fields from the environment. For a few settings the
// conventional unprefixed names (DATABASE_URL, REDIS_ADDR, ...) are honored
// when the ROSTER_ form is absent.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.Addr, "ROSTER_ADDR")
	str(&c.MCPAddr, "ROSTER_MCP_ADDR")
	str(&c.LogLevel, "ROSTER_LOG_LEVEL")
	str(&c.SessionSecret, "ROSTER_SESSION_SECRET")

	str(&c.Store.Driver, "ROSTER_STORE_DRIVER")
	str(&c.Store.DSN, "ROSTER_STORE_DSN", "DATABASE_URL")
	str(&c.Store.KuzuPath, "ROSTER_KUZU_PATH")
	str(&c.Store.RedisAddr, "ROSTER_REDIS_ADDR", "REDIS_ADDR")
	str(&c.Store.RedisPassword, "ROSTER_REDIS_PASSWORD", "REDIS_PASSWORD")
	str(&c.Store.RedisPrefix, "ROSTER_REDIS_PREFIX")
	str(&c.Store.SpannerDatabase, "ROSTER_SPANNER_DATABASE")

	var redisDB string
	str(&redisDB, "ROSTER_REDIS_DB", "REDIS_DB")
	if redisDB != "" {
		n, err := strconv.Atoi(redisDB)
		if err != nil {
			return fmt.Errorf("config: invalid redis db %q: %w", redisDB, err)
		}
		c.Store.RedisDB = n
	}

	str(&c.Events.AMQPURL, "ROSTER_AMQP_URL")
	str(&c.Events.Exchange, "ROSTER_AMQP_EXCHANGE")
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.Driver == DriverRedis && c.Store.RedisAddr == "" {
		c.Store.RedisAddr = DefaultRedis
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = DefaultExchange
	}
}

// Validate checks that the selected driver is known and has what it needs
// to connect.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverKuzu, DriverRedis:
	case DriverPostgres, DriverGorm:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store driver %q requires dsn", c.Store.Driver)
		}
	case DriverSpanner:
		if c.Store.SpannerDatabase == "" {
			return fmt.Errorf("config: store driver %q requires spannerDatabase", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}
