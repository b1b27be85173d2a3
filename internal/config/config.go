// Package config assembles the gateway configuration from defaults, an
// optional YAML file, environment variables and CLI overrides, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	// Query engine.
	Engine       string // "postgres" (default) or "duckdb"
	DatabaseURL  string
	DuckDBPath   string
	ReadOnly     bool
	MaxRows      int
	QueryTimeout time.Duration

	// Admission.
	PerIdentityLimit   int // zero denies every request
	MaxGlobalDaily     int // zero denies every request
	StoreFailurePolicy string // "closed" (default) or "open"
	QuotaStore         string // memory, sqlite, redis or postgres
	QuotaSQLitePath    string
	RedisURL           string
	QuotaSweepInterval time.Duration // zero disables the sweeper
	QuotaTimezone      *time.Location
	TrustProxy         bool

	// Validation.
	MaxSubqueryDepth int
	MaxUnions        int // -1 disables the count check; zero is rejected
	SQLDialect       string // "postgres" or "generic"; empty follows Engine
	SanitizeSQL      bool
	PolicyFile       string // optional path to policy YAML

	// Audit.
	AuditLog    string // path to NDJSON audit log file
	AuditDB     string // path to a SQLite query history database
	NATSURL     string
	NATSSubject string

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport          string // "stdio" (default) or "http"
	HTTPAddr           string // listen address for HTTP transport (default ":8080")
	HTTPBearerToken    string // required when transport=http
	CORSAllowedOrigins []string

	// Connection pool.
	PoolMaxConns        int32         // default: 5
	PoolMinConns        int32         // default: 1
	PoolMaxConnLifetime time.Duration // default: 30m

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// CLI-only fields (not settable via env vars).
	DryRun      bool
	ExplainOnly bool
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	ConfigFile       *string
	Engine           *string
	DatabaseURL      *string
	DuckDBPath       *string
	LogLevel         *string
	MaxRows          *int
	QueryTimeout     *time.Duration
	PolicyFile       *string
	Transport        *string
	HTTPAddr         *string
	HTTPBearerToken  *string
	QuotaStore       *string
	PerIdentityLimit *int
	MaxGlobalDaily   *int
	OTelEnabled      bool
	DryRun           bool
	ExplainOnly      bool
	AuditLog         string

	// Connection pool overrides.
	PoolMaxConns        *int32
	PoolMinConns        *int32
	PoolMaxConnLifetime *time.Duration
}

// defaults are keyed like the environment variables, lower-cased.
var defaults = map[string]any{
	"engine":                 "postgres",
	"read_only":              "true",
	"max_rows":               "100",
	"query_timeout":          "10s",
	"per_identity_limit":     "100",
	"max_global_daily":       "5000",
	"store_failure_policy":   "closed",
	"quota_store":            "memory",
	"quota_sqlite_path":      "sqlgate.db",
	"quota_sweep_interval":   "1h",
	"quota_timezone":         "UTC",
	"trust_proxy":            "false",
	"max_subquery_depth":     "2",
	"max_unions":             "5",
	"sanitize_sql":           "false",
	"nats_subject":           "sqlgate.events.audit",
	"log_level":              "info",
	"transport":              "stdio",
	"http_addr":              ":8080",
	"pool_max_conns":         "5",
	"pool_min_conns":         "1",
	"pool_max_conn_lifetime": "30m",
	"otel_enabled":           "false",
}

// envKeys are the extra keys that have no default but may come from the
// environment or the config file.
var envKeys = []string{
	"database_url", "duckdb_path", "redis_url", "sql_dialect", "policy_file",
	"audit_db", "nats_url", "http_bearer_token", "cors_allowed_origins",
}

// Load builds a Config from defaults, the YAML file named by CONFIG_FILE or
// --config, and environment variables, then applies CLI overrides and
// validates the result.
func Load(overrides Overrides) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	configFile := os.Getenv("CONFIG_FILE")
	if overrides.ConfigFile != nil {
		configFile = *overrides.ConfigFile
	}
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	known := make(map[string]bool, len(defaults)+len(envKeys))
	for key := range defaults {
		known[key] = true
	}
	for _, key := range envKeys {
		known[key] = true
	}
	if err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if !known[key] {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg, err := fromKoanf(k)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fromKoanf converts the merged key space into a Config. Errors name the
// environment variable so the operator knows what to fix.
func fromKoanf(k *koanf.Koanf) (*Config, error) {
	p := parser{k: k}
	cfg := &Config{
		Engine:              strings.ToLower(k.String("engine")),
		DatabaseURL:         k.String("database_url"),
		DuckDBPath:          k.String("duckdb_path"),
		ReadOnly:            p.boolean("read_only"),
		MaxRows:             p.integer("max_rows", 1),
		QueryTimeout:        p.duration("query_timeout"),
		PerIdentityLimit:    p.integer("per_identity_limit", 0),
		MaxGlobalDaily:      p.integer("max_global_daily", 0),
		StoreFailurePolicy:  strings.ToLower(k.String("store_failure_policy")),
		QuotaStore:          strings.ToLower(k.String("quota_store")),
		QuotaSQLitePath:     k.String("quota_sqlite_path"),
		RedisURL:            k.String("redis_url"),
		QuotaSweepInterval:  p.duration("quota_sweep_interval"),
		TrustProxy:          p.boolean("trust_proxy"),
		MaxSubqueryDepth:    p.integer("max_subquery_depth", 0),
		MaxUnions:           p.integer("max_unions", -1),
		SQLDialect:          strings.ToLower(k.String("sql_dialect")),
		SanitizeSQL:         p.boolean("sanitize_sql"),
		PolicyFile:          k.String("policy_file"),
		AuditDB:             k.String("audit_db"),
		NATSURL:             k.String("nats_url"),
		NATSSubject:         k.String("nats_subject"),
		Transport:           k.String("transport"),
		HTTPAddr:            k.String("http_addr"),
		HTTPBearerToken:     k.String("http_bearer_token"),
		CORSAllowedOrigins:  splitList(k.String("cors_allowed_origins")),
		PoolMaxConns:        int32(p.integer("pool_max_conns", 1)),
		PoolMinConns:        int32(p.integer("pool_min_conns", 0)),
		PoolMaxConnLifetime: p.duration("pool_max_conn_lifetime"),
		OTelEnabled:         p.boolean("otel_enabled"),
	}
	if p.err != nil {
		return nil, p.err
	}

	level, err := parseLogLevel(k.String("log_level"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	tz := k.String("quota_timezone")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE value %q: %w", tz, err)
	}
	cfg.QuotaTimezone = loc

	return cfg, nil
}

// parser records the first conversion error and returns zero values after it.
type parser struct {
	k   *koanf.Koanf
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) boolean(key string) bool {
	v := p.k.String(key)
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s value %q: %w", envName(key), v, err))
	}
	return b
}

func (p *parser) integer(key string, minimum int) int {
	v := p.k.String(key)
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < minimum {
		p.fail(fmt.Errorf("invalid %s value %q: must be an integer >= %d", envName(key), v, minimum))
	}
	return n
}

func (p *parser) duration(key string) time.Duration {
	v := p.k.String(key)
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s value %q: %w", envName(key), v, err))
	}
	return d
}

func envName(key string) string { return strings.ToUpper(key) }

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.Engine != nil {
		cfg.Engine = strings.ToLower(*o.Engine)
	}
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.DuckDBPath != nil {
		cfg.DuckDBPath = *o.DuckDBPath
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.MaxRows != nil {
		if *o.MaxRows <= 0 {
			return fmt.Errorf("invalid --max-rows value: must be a positive integer")
		}
		cfg.MaxRows = *o.MaxRows
	}
	if o.QueryTimeout != nil {
		cfg.QueryTimeout = *o.QueryTimeout
	}
	if o.PolicyFile != nil {
		cfg.PolicyFile = *o.PolicyFile
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.QuotaStore != nil {
		cfg.QuotaStore = strings.ToLower(*o.QuotaStore)
	}
	if o.PerIdentityLimit != nil {
		if *o.PerIdentityLimit < 0 {
			return fmt.Errorf("invalid --per-identity-limit value: must not be negative")
		}
		cfg.PerIdentityLimit = *o.PerIdentityLimit
	}
	if o.MaxGlobalDaily != nil {
		if *o.MaxGlobalDaily < 0 {
			return fmt.Errorf("invalid --max-global-daily value: must not be negative")
		}
		cfg.MaxGlobalDaily = *o.MaxGlobalDaily
	}

	if err := applyPoolOverrides(cfg, o); err != nil {
		return err
	}

	cfg.DryRun = o.DryRun
	cfg.ExplainOnly = o.ExplainOnly
	if o.AuditLog != "" {
		cfg.AuditLog = o.AuditLog
	}
	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled

	return nil
}

// applyPoolOverrides applies connection pool CLI flag overrides.
func applyPoolOverrides(cfg *Config, o Overrides) error {
	if o.PoolMaxConns != nil {
		if *o.PoolMaxConns <= 0 {
			return fmt.Errorf("invalid --pool-max-conns value: must be a positive integer")
		}
		cfg.PoolMaxConns = *o.PoolMaxConns
	}
	if o.PoolMinConns != nil {
		if *o.PoolMinConns < 0 {
			return fmt.Errorf("invalid --pool-min-conns value: must be a non-negative integer")
		}
		cfg.PoolMinConns = *o.PoolMinConns
	}
	if o.PoolMaxConnLifetime != nil {
		cfg.PoolMaxConnLifetime = *o.PoolMaxConnLifetime
	}
	return nil
}

// validate checks cross-field constraints on the final config.
func validate(cfg *Config) error {
	switch cfg.Engine {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres engine (set via env var or --database-url flag)")
		}
	case "duckdb":
		if cfg.DuckDBPath == "" {
			return fmt.Errorf("DUCKDB_PATH is required for the duckdb engine (set via env var or --duckdb-path flag)")
		}
	default:
		return fmt.Errorf("invalid ENGINE value %q: must be \"postgres\" or \"duckdb\"", cfg.Engine)
	}

	switch cfg.SQLDialect {
	case "", "postgres", "generic":
	default:
		return fmt.Errorf("invalid SQL_DIALECT value %q: must be \"postgres\" or \"generic\"", cfg.SQLDialect)
	}

	switch cfg.StoreFailurePolicy {
	case "open", "closed":
	default:
		return fmt.Errorf("invalid STORE_FAILURE_POLICY value %q: must be \"open\" or \"closed\"", cfg.StoreFailurePolicy)
	}

	switch cfg.QuotaStore {
	case "memory":
	case "sqlite":
		if cfg.QuotaSQLitePath == "" {
			return fmt.Errorf("QUOTA_SQLITE_PATH is required when QUOTA_STORE is \"sqlite\"")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUOTA_STORE is \"redis\"")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when QUOTA_STORE is \"postgres\"")
		}
	default:
		return fmt.Errorf("invalid QUOTA_STORE value %q: must be memory, sqlite, redis or postgres", cfg.QuotaStore)
	}

	switch cfg.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid TRANSPORT value %q: must be \"stdio\" or \"http\"", cfg.Transport)
	}

	if cfg.Transport == "http" && cfg.HTTPBearerToken == "" {
		return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
	}

	if cfg.DryRun && cfg.ExplainOnly {
		return fmt.Errorf("--dry-run and --explain-only are mutually exclusive")
	}

	if cfg.MaxUnions == 0 {
		return fmt.Errorf("invalid MAX_UNIONS value 0: must be positive, or -1 to disable the count check")
	}

	if cfg.PoolMinConns > cfg.PoolMaxConns {
		return fmt.Errorf("POOL_MIN_CONNS (%d) must not exceed POOL_MAX_CONNS (%d)", cfg.PoolMinConns, cfg.PoolMaxConns)
	}

	return nil
}

// Dialect is the statement classifier to use: SQL_DIALECT if set, otherwise
// the engine's own dialect.
func (c *Config) Dialect() string {
	if c.SQLDialect != "" {
		return c.SQLDialect
	}
	if c.Engine == "postgres" {
		return "postgres"
	}
	return "generic"
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}
