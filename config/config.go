package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"sigforge/compiler"
	"sigforge/core"
	"sigforge/simulate"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix prefixes every environment override, e.g. SIGFORGE_API_PORT.
const EnvPrefix = "SIGFORGE"

// Config holds all configuration for sigforge.
type Config struct {
	Log        LogConfig            `mapstructure:"log"`
	Catalog    CatalogConfig        `mapstructure:"catalog"`
	Validation core.ValidationRules `mapstructure:"validation"`
	Compiler   CompilerConfig       `mapstructure:"compiler"`
	Simulation simulate.Config      `mapstructure:"simulation"`
	// SampleData is a JSON or JSON-lines file of records for
	// data-simulation. Empty means synthetic records.
	SampleData string               `mapstructure:"sample_data"`
	Storage    StorageConfig        `mapstructure:"storage"`
	API        APIConfig            `mapstructure:"api"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// CatalogConfig lists YAML files with extra component definitions loaded on
// top of the built-in catalog.
type CatalogConfig struct {
	Files []string `mapstructure:"files" validate:"dive,required"`
}

type CompilerConfig struct {
	CacheSize     int                          `mapstructure:"cache_size" validate:"gte=1"`
	TimeBucket    time.Duration                `mapstructure:"time_bucket"`
	FallbackStart int                          `mapstructure:"fallback_start" validate:"gte=1"`
	SIDRanges     map[string]compiler.SIDRange `mapstructure:"sid_ranges"`
	// Defaults applied to compilations that do not set them.
	Action   string `mapstructure:"action" validate:"omitempty,oneof=alert drop pass reject"`
	Lookback string `mapstructure:"lookback"`
}

type StorageConfig struct {
	Backend    string         `mapstructure:"backend" validate:"oneof=memory sqlite postgres redis"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Redis      RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	PoolSize int    `mapstructure:"pool_size" validate:"gte=0"`
	Key      string `mapstructure:"key"`
}

type APIConfig struct {
	Host           string        `mapstructure:"host" validate:"required"`
	Port           int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      struct {
		Enabled           bool    `mapstructure:"enabled"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
		Burst             int     `mapstructure:"burst" validate:"gte=0"`
	} `mapstructure:"rate_limit"`
	Auth AuthConfig `mapstructure:"auth"`
}

type AuthConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	BcryptCost int           `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
	// HashedPassword is derived from Password at load time.
	HashedPassword string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("catalog.files", []string{})

	rules := core.DefaultRules()
	v.SetDefault("validation.allow_self_connection", rules.AllowSelfConnection)
	v.SetDefault("validation.allow_multiple_connections", rules.AllowMultipleConnections)
	v.SetDefault("validation.allow_cycles", rules.AllowCycles)
	v.SetDefault("validation.max_input_connections", rules.MaxInputConnections)
	v.SetDefault("validation.max_output_connections", rules.MaxOutputConnections)

	v.SetDefault("compiler.cache_size", compiler.DefaultCacheSize)
	v.SetDefault("compiler.time_bucket", compiler.DefaultTimeBucket)
	v.SetDefault("compiler.fallback_start", compiler.DefaultFallbackStart)
	for cat, r := range compiler.DefaultSIDRanges() {
		v.SetDefault("compiler.sid_ranges."+string(cat)+".start", r.Start)
		v.SetDefault("compiler.sid_ranges."+string(cat)+".end", r.End)
	}
	v.SetDefault("compiler.action", "")
	v.SetDefault("compiler.lookback", "")

	sim := simulate.DefaultConfig()
	v.SetDefault("simulation.sample_count", sim.SampleCount)
	v.SetDefault("simulation.accuracy_threshold", sim.AccuracyThreshold)
	v.SetDefault("simulation.performance_threshold_ms", sim.PerformanceThresholdMs)
	v.SetDefault("simulation.history_size", sim.HistorySize)
	v.SetDefault("simulation.test_timeout", sim.TestTimeout)
	v.SetDefault("simulation.parallel", sim.Parallel)
	v.SetDefault("simulation.seed", sim.Seed)

	v.SetDefault("sample_data", "")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "data/sigforge.db")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_open_conns", 10)
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.key", "sigforge:sids")

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8088)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 60*time.Second)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.requests_per_second", 20.0)
	v.SetDefault("api.rate_limit.burst", 40)
	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.jwt_secret", "")
	v.SetDefault("api.auth.token_ttl", time.Hour)
	v.SetDefault("api.auth.username", "admin")
	v.SetDefault("api.auth.password", "")
	v.SetDefault("api.auth.bcrypt_cost", bcrypt.DefaultCost)
}

// loadFromEnv maps SIGFORGE_SECTION_KEY variables onto section.key.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path, or from config.yaml in . or ./config
// when path is empty, then applies environment overrides and validates the
// result. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := LoadSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validateAndHash(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateAndHash(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.API.Auth.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.API.Auth.Password), cfg.API.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		cfg.API.Auth.HashedPassword = string(hashed)
		cfg.API.Auth.Password = ""
	}
	return nil
}

var weakSecrets = []string{"secret", "password", "changeme", "default", "admin", "example", "test"}

// validateConfig performs the cross-field checks struct tags cannot express.
func validateConfig(cfg *Config) error {
	if err := validateSIDRanges(cfg.Compiler); err != nil {
		return err
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if !strings.HasPrefix(cfg.Storage.Postgres.DSN, "postgres://") && !strings.HasPrefix(cfg.Storage.Postgres.DSN, "postgresql://") &&
			!strings.Contains(cfg.Storage.Postgres.DSN, "host=") {
			return fmt.Errorf("storage.postgres.dsn must be a postgres URL or key=value DSN")
		}
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Storage.Redis.Addr); err != nil {
			return fmt.Errorf("invalid storage.redis.addr %q: %w", cfg.Storage.Redis.Addr, err)
		}
	}

	if cfg.Simulation.AccuracyThreshold < 0 || cfg.Simulation.AccuracyThreshold > 1 {
		return fmt.Errorf("simulation.accuracy_threshold must be between 0 and 1")
	}
	if cfg.Simulation.TestTimeout < 0 {
		return fmt.Errorf("simulation.test_timeout cannot be negative")
	}

	if cfg.API.Auth.Enabled {
		secret := cfg.API.Auth.JWTSecret
		if len(secret) < 32 {
			return fmt.Errorf("api.auth.jwt_secret must be at least 32 characters when auth is enabled")
		}
		lower := strings.ToLower(secret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				return fmt.Errorf("api.auth.jwt_secret appears to contain a weak or default value")
			}
		}
		if cfg.API.Auth.Password == "" && cfg.API.Auth.HashedPassword == "" {
			return fmt.Errorf("api.auth.password is required when auth is enabled")
		}
	}
	if cfg.API.RateLimit.Enabled && cfg.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be positive when rate limiting is enabled")
	}
	return nil
}

func validateSIDRanges(c CompilerConfig) error {
	type named struct {
		name string
		r    compiler.SIDRange
	}
	ranges := make([]named, 0, len(c.SIDRanges))
	for name, r := range c.SIDRanges {
		switch compiler.SIDCategory(name) {
		case compiler.SIDMalware, compiler.SIDNetwork, compiler.SIDWeb, compiler.SIDCustom:
		default:
			return fmt.Errorf("unknown SID range category %q", name)
		}
		if r.Start <= 0 || r.End < r.Start {
			return fmt.Errorf("invalid SID range for %s: %d-%d", name, r.Start, r.End)
		}
		if c.FallbackStart <= r.End {
			return fmt.Errorf("compiler.fallback_start %d must be above the %s range end %d", c.FallbackStart, name, r.End)
		}
		ranges = append(ranges, named{name, r})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].r.Start < ranges[j].r.Start })
	for i := 1; i < len(ranges); i++ {
		if ranges[i].r.Start <= ranges[i-1].r.End {
			return fmt.Errorf("SID ranges %s and %s overlap", ranges[i-1].name, ranges[i].name)
		}
	}
	return nil
}

// SIDRangesByCategory converts the configured ranges for the allocator.
func (c CompilerConfig) SIDRangesByCategory() map[compiler.SIDCategory]compiler.SIDRange {
	out := make(map[compiler.SIDCategory]compiler.SIDRange, len(c.SIDRanges))
	for name, r := range c.SIDRanges {
		out[compiler.SIDCategory(name)] = r
	}
	return out
}

// Masked returns a copy safe to log: secrets are replaced.
func (c Config) Masked() Config {
	const mask = "********"
	if c.API.Auth.JWTSecret != "" {
		c.API.Auth.JWTSecret = mask
	}
	if c.API.Auth.HashedPassword != "" {
		c.API.Auth.HashedPassword = mask
	}
	c.API.Auth.Password = ""
	if c.Storage.Redis.Password != "" {
		c.Storage.Redis.Password = mask
	}
	if c.Storage.Postgres.DSN != "" {
		c.Storage.Postgres.DSN = mask
	}
	return c
}
