// Package config loads gateway settings from the environment and an optional
// routes file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/delivery-gateway/internal/loadbalancer"
	"github.com/aman-churiwal/delivery-gateway/internal/routing"
	"github.com/aman-churiwal/delivery-gateway/internal/storage"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const MinJWTSecretLength = 32

// List is a comma-separated environment value.
type List []string

func (l *List) Decode(value string) error {
	var out List
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

type Config struct {
	Server         ServerConfig
	Redis          RedisConfig
	JWT            JWTConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Services       ServicesConfig
	HealthCheck    HealthCheckConfig
	Database       DatabaseConfig
	Admin          AdminConfig
	Log            LogConfig

	RoutesFile string `env:"ROUTES_FILE"`

	// Populated from RoutesFile, or the built-in table when unset.
	Routes      []routing.Rule
	PublicPaths routing.PublicPaths
	// Upstreams maps upstream names to their targets.
	Upstreams map[string][]string
}

type ServerConfig struct {
	Port            string        `env:"PORT,default=8080"`
	Environment     string        `env:"ENVIRONMENT,default=development"`
	MaxConnections  int           `env:"MAX_CONNECTIONS,default=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	TrustedNetworks List          `env:"TRUSTED_NETWORKS"`
	CORSOrigins     List          `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

type JWTConfig struct {
	Secret string `env:"JWT_SECRET"`
}

type RateLimitConfig struct {
	Requests     int           `env:"RATE_LIMIT_REQUESTS,default=10"`
	Window       time.Duration `env:"RATE_LIMIT_WINDOW,default=1s"`
	StoreTimeout time.Duration `env:"RATE_LIMIT_STORE_TIMEOUT,default=100ms"`
}

type CircuitBreakerConfig struct {
	WindowSize       int           `env:"CB_WINDOW_SIZE,default=10"`
	MinimumCalls     int           `env:"CB_MINIMUM_CALLS,default=0"`
	FailureRate      float64       `env:"CB_FAILURE_RATE,default=50"`
	SlowCallRate     float64       `env:"CB_SLOW_CALL_RATE,default=50"`
	SlowCallDuration time.Duration `env:"CB_SLOW_CALL_DURATION,default=5s"`
	WaitDuration     time.Duration `env:"CB_WAIT_DURATION,default=30s"`
	HalfOpenCalls    int           `env:"CB_HALF_OPEN_CALLS,default=5"`
}

// Breaker converts the settings to a breaker config.
func (c CircuitBreakerConfig) Breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		WindowSize:            c.WindowSize,
		MinimumCalls:          c.MinimumCalls,
		FailureRateThreshold:  c.FailureRate,
		SlowCallRateThreshold: c.SlowCallRate,
		SlowCallDuration:      c.SlowCallDuration,
		WaitDuration:          c.WaitDuration,
		HalfOpenCalls:         c.HalfOpenCalls,
	}
}

type ServicesConfig struct {
	User         List `env:"USER_SERVICE_URL,default=http://localhost:8081"`
	Restaurant   List `env:"RESTAURANT_SERVICE_URL,default=http://localhost:8082"`
	Order        List `env:"ORDER_SERVICE_URL,default=http://localhost:8083"`
	Delivery     List `env:"DELIVERY_SERVICE_URL,default=http://localhost:8084"`
	Notification List `env:"NOTIFICATION_SERVICE_URL,default=http://localhost:8085"`

	LoadBalancer    string        `env:"LOAD_BALANCER,default=round_robin"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
}

func (s ServicesConfig) targets() map[string][]string {
	return map[string][]string{
		"user-service":         s.User,
		"restaurant-service":   s.Restaurant,
		"order-service":        s.Order,
		"delivery-service":     s.Delivery,
		"notification-service": s.Notification,
	}
}

type HealthCheckConfig struct {
	Enabled     bool          `env:"HEALTHCHECK_ENABLED,default=true"`
	Path        string        `env:"HEALTHCHECK_PATH,default=/actuator/health"`
	Interval    time.Duration `env:"HEALTHCHECK_INTERVAL,default=10s"`
	Timeout     time.Duration `env:"HEALTHCHECK_TIMEOUT,default=5s"`
	MaxFailures int           `env:"HEALTHCHECK_MAX_FAILURES,default=3"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=20"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	SlowQuery       time.Duration `env:"DB_SLOW_QUERY,default=200ms"`
	AccessLogBuffer int           `env:"ACCESS_LOG_BUFFER,default=1000"`
}

// Postgres converts the settings to a storage config.
func (d DatabaseConfig) Postgres() storage.PostgresConfig {
	return storage.PostgresConfig{
		DSN:             d.URL,
		MaxIdleConns:    d.MaxIdleConns,
		MaxOpenConns:    d.MaxOpenConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		SlowQuery:       d.SlowQuery,
	}
}

type AdminConfig struct {
	User              string  `env:"ADMIN_USER,default=admin"`
	PasswordHash      string  `env:"ADMIN_PASSWORD_HASH"`
	RequestsPerSecond float64 `env:"ADMIN_RATE_LIMIT,default=5"`
	Burst             int     `env:"ADMIN_RATE_BURST,default=10"`
}

// Enabled reports whether the admin API accepts credentials.
func (a AdminConfig) Enabled() bool {
	return a.PasswordHash != ""
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Load reads the environment, applies the routes file if one is named, and
// validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.Routes = routing.DefaultRules()
	cfg.PublicPaths = routing.DefaultPublicPaths()
	cfg.Upstreams = cfg.Services.targets()

	if cfg.RoutesFile != "" {
		if err := cfg.applyRoutesFile(cfg.RoutesFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// routesFile is the YAML layout of ROUTES_FILE.
type routesFile struct {
	Routes []struct {
		Name     string           `yaml:"name"`
		Prefix   string           `yaml:"prefix"`
		Upstream string           `yaml:"upstream"`
		Profile  routing.Profile  `yaml:"profile"`
		Filters  *routing.Filters `yaml:"filters"`
	} `yaml:"routes"`
	PublicPaths *routing.PublicPaths `yaml:"publicPaths"`
	Upstreams   map[string][]string  `yaml:"upstreams"`
}

func (c *Config) applyRoutesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read routes file: %w", err)
	}
	return c.applyRoutes(data)
}

func (c *Config) applyRoutes(data []byte) error {
	var file routesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse routes file: %w", err)
	}

	if len(file.Routes) > 0 {
		rules := make([]routing.Rule, 0, len(file.Routes))
		for _, r := range file.Routes {
			rule := routing.NewRule(r.Name, r.Prefix, r.Upstream, r.Profile)
			if r.Filters != nil && !rule.Local {
				rule.Filters = *r.Filters
			}
			rules = append(rules, rule)
		}
		c.Routes = rules
	}
	if file.PublicPaths != nil {
		c.PublicPaths = *file.PublicPaths
	}
	for name, targets := range file.Upstreams {
		c.Upstreams[name] = targets
	}
	return nil
}

// Validate checks the settings the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWT.Secret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength))
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be positive"))
	}
	// The counter expiry is set in whole milliseconds.
	if c.RateLimit.Window < time.Millisecond {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be at least 1ms"))
	}

	cb := c.CircuitBreaker
	if cb.WindowSize <= 0 {
		errs = append(errs, errors.New("CB_WINDOW_SIZE must be positive"))
	}
	if cb.MinimumCalls < 0 || cb.MinimumCalls > cb.WindowSize {
		errs = append(errs, errors.New("CB_MINIMUM_CALLS must be between 0 and CB_WINDOW_SIZE"))
	}
	if cb.FailureRate <= 0 || cb.FailureRate > 100 {
		errs = append(errs, errors.New("CB_FAILURE_RATE must be in (0, 100]"))
	}
	if cb.SlowCallRate <= 0 || cb.SlowCallRate > 100 {
		errs = append(errs, errors.New("CB_SLOW_CALL_RATE must be in (0, 100]"))
	}

	if _, err := loadbalancer.NewStrategy(c.Services.LoadBalancer); err != nil {
		errs = append(errs, err)
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("DB_MAX_IDLE_CONNS and DB_MAX_OPEN_CONNS must not be negative"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("MAX_CONNECTIONS must not be negative"))
	}

	for _, r := range c.Routes {
		if !r.Profile.Valid() {
			errs = append(errs, fmt.Errorf("route %q: unknown profile %q", r.Name, r.Profile))
			continue
		}
		if r.Local {
			continue
		}
		if len(c.Upstreams[r.Upstream]) == 0 {
			errs = append(errs, fmt.Errorf("route %q: no targets configured for upstream %q", r.Name, r.Upstream))
		}
	}
	if _, err := routing.NewTable(c.Routes); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
