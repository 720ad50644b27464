package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const minJWTSecretBytes = 32

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct {
	Port      string `env:"PORT,       default=8080"`
	Env       string `env:"ENV,        default=development"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	JWT       JWTConfig
	Hashing   HashingConfig
	Store     StoreConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Throttle  ThrottleConfig
	Telemetry TelemetryConfig
	Bootstrap BootstrapConfig
}

type JWTConfig struct {
	Secret          string        `env:"JWT_SECRET, required"`
	Issuer          string        `env:"JWT_ISSUER,        default=identity-service"`
	Audience        string        `env:"JWT_AUDIENCE,      default=identity-clients"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,  default=15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL, default=168h"`
}

type HashingConfig struct {
	BcryptCost int `env:"BCRYPT_COST,  default=11"`
	Workers    int `env:"HASH_WORKERS, default=4"`
}

type StoreConfig struct {
	Driver    string `env:"STORE_DRIVER, default=sqlite"`
	SQLiteDSN string `env:"SQLITE_DSN,   default=file:identity.db?cache=shared"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=identity"`
}

// RedisConfig is optional. An empty Addr disables login throttling.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

type ThrottleConfig struct {
	MaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS, default=5"`
	Window      time.Duration `env:"LOGIN_WINDOW,       default=15m"`
}

type TelemetryConfig struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
}

// BootstrapConfig seeds the first administrator. Leaving the username empty
// skips bootstrapping.
type BootstrapConfig struct {
	Username  string `env:"BOOTSTRAP_ADMIN_USERNAME"`
	Email     string `env:"BOOTSTRAP_ADMIN_EMAIL"`
	Password  string `env:"BOOTSTRAP_ADMIN_PASSWORD"`
	FirstName string `env:"BOOTSTRAP_ADMIN_FIRST_NAME, default=System"`
	LastName  string `env:"BOOTSTRAP_ADMIN_LAST_NAME,  default=Administrator"`
}

// Enabled reports whether an administrator should be bootstrapped.
func (b BootstrapConfig) Enabled() bool { return b.Username != "" }

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through l. Tests pass envconfig.MapLookuper.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if len(c.JWT.Secret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver != DriverSQLite && c.Store.Driver != DriverMongo {
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of sqlite, mongo", c.Store.Driver))
	}
	if c.Hashing.Workers < 1 {
		errs = append(errs, errors.New("HASH_WORKERS must be at least 1"))
	}
	if c.Bootstrap.Enabled() && (c.Bootstrap.Email == "" || c.Bootstrap.Password == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD are required with BOOTSTRAP_ADMIN_USERNAME"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
