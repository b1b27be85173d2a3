package main

import (
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/config"
	"github.com/spf13/pflag"
)

// parseFlags turns CLI arguments into config overrides. Only flags the user
// actually passed end up set.
func parseFlags(args []string) (config.Overrides, error) {
	fs := pflag.NewFlagSet("sqlgate", pflag.ContinueOnError)

	var (
		configFile       = fs.String("config", "", "path to a YAML config file")
		engine           = fs.String("engine", "", "query engine: postgres or duckdb")
		databaseURL      = fs.String("database-url", "", "PostgreSQL connection string")
		duckDBPath       = fs.String("duckdb-path", "", "DuckDB database file")
		logLevel         = fs.String("log-level", "", "log level: debug, info, warn, error")
		maxRows          = fs.Int("max-rows", 0, "maximum rows returned per query")
		queryTimeout     = fs.Duration("query-timeout", 0, "per-query timeout")
		policyFile       = fs.String("policy-file", "", "path to a policy YAML file")
		transport        = fs.String("transport", "", "transport: stdio or http")
		httpAddr         = fs.String("http-addr", "", "listen address for the http transport")
		httpBearerToken  = fs.String("http-bearer-token", "", "bearer token required by the http transport")
		quotaStore       = fs.String("quota-store", "", "quota store: memory, sqlite, redis or postgres")
		perIdentityLimit = fs.Int("per-identity-limit", 0, "requests per client per day")
		maxGlobalDaily   = fs.Int("max-global-daily", 0, "requests per day across all clients")
		poolMaxConns     = fs.Int32("pool-max-conns", 0, "maximum database connections")
		poolMinConns     = fs.Int32("pool-min-conns", 0, "minimum idle database connections")
		poolMaxLifetime  = fs.Duration("pool-max-conn-lifetime", 0, "maximum connection lifetime")
	)

	var o config.Overrides
	fs.BoolVar(&o.DryRun, "dry-run", false, "admit and validate queries without executing them")
	fs.BoolVar(&o.ExplainOnly, "explain-only", false, "run every query as EXPLAIN")
	fs.BoolVar(&o.OTelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics")
	fs.StringVar(&o.AuditLog, "audit-log", "", "append NDJSON audit records to this file")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}

	setString := func(name string, dst **string, v *string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setInt := func(name string, dst **int, v *int) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setDuration := func(name string, dst **time.Duration, v *time.Duration) {
		if fs.Changed(name) {
			*dst = v
		}
	}

	setString("config", &o.ConfigFile, configFile)
	setString("engine", &o.Engine, engine)
	setString("database-url", &o.DatabaseURL, databaseURL)
	setString("duckdb-path", &o.DuckDBPath, duckDBPath)
	setString("log-level", &o.LogLevel, logLevel)
	setString("policy-file", &o.PolicyFile, policyFile)
	setString("transport", &o.Transport, transport)
	setString("http-addr", &o.HTTPAddr, httpAddr)
	setString("http-bearer-token", &o.HTTPBearerToken, httpBearerToken)
	setString("quota-store", &o.QuotaStore, quotaStore)
	setInt("max-rows", &o.MaxRows, maxRows)
	setInt("per-identity-limit", &o.PerIdentityLimit, perIdentityLimit)
	setInt("max-global-daily", &o.MaxGlobalDaily, maxGlobalDaily)
	setDuration("query-timeout", &o.QueryTimeout, queryTimeout)
	setDuration("pool-max-conn-lifetime", &o.PoolMaxConnLifetime, poolMaxLifetime)

	if fs.Changed("pool-max-conns") {
		o.PoolMaxConns = poolMaxConns
	}
	if fs.Changed("pool-min-conns") {
		o.PoolMinConns = poolMinConns
	}

	return o, nil
}
