/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ScheduleBackend selects where plan ids and itineraries are kept.
type ScheduleBackend string

const (
	ScheduleMemory ScheduleBackend = "memory"
	ScheduleRedis  ScheduleBackend = "redis"
)

// EventBusBackend selects how plan events reach other fleet adapters.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusNATS   EventBusBackend = "nats"
	EventBusRedis  EventBusBackend = "redis"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	LogFormat   string // "console" or "json"
	HTTPBind    string
	HTTPPort    int

	// Robot this adapter compiles plans for
	RobotName string
	FleetName string
	GraphPath string

	// Compiler limits
	MaxCommitAttempts    int
	DoorGroupTravelLimit time.Duration
	LiftDriftTolerance   float64

	// Mutex zones
	MutexLease        time.Duration
	MutexPollInterval time.Duration

	// Schedule store
	ScheduleBackend ScheduleBackend
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKeyPrefix  string

	// Compilation ledger; an empty DSN disables it
	DBBackend DatabaseBackend
	DBDSN     string

	// Event distribution
	EventBus   EventBusBackend
	NATSURL    string
	NATSToken  string
	InstanceID string

	// Replicas of one robot's adapter elect a single compiling leader
	LeaderElection bool
	LeaderLease    time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("FLEETPLAN_ENV", "development"),
		LogFormat:   getEnv("FLEETPLAN_LOG_FORMAT", "console"),
		HTTPBind:    getEnv("FLEETPLAN_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("FLEETPLAN_HTTP_PORT", 8080),

		RobotName: getEnv("FLEETPLAN_ROBOT_NAME", ""),
		FleetName: getEnv("FLEETPLAN_FLEET_NAME", ""),
		GraphPath: getEnv("FLEETPLAN_GRAPH_PATH", ""),

		MaxCommitAttempts:    getEnvInt("FLEETPLAN_MAX_COMMIT_ATTEMPTS", 5),
		DoorGroupTravelLimit: getEnvDuration("FLEETPLAN_DOOR_GROUP_TRAVEL_LIMIT", time.Minute),
		LiftDriftTolerance:   getEnvFloat("FLEETPLAN_LIFT_DRIFT_TOLERANCE", 0.5),

		MutexLease:        getEnvDuration("FLEETPLAN_MUTEX_LEASE", 30*time.Second),
		MutexPollInterval: getEnvDuration("FLEETPLAN_MUTEX_POLL_INTERVAL", 250*time.Millisecond),

		ScheduleBackend: ScheduleBackend(getEnv("FLEETPLAN_SCHEDULE_BACKEND", string(ScheduleMemory))),
		RedisAddr:       getEnvAny([]string{"FLEETPLAN_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:   getEnvAny([]string{"FLEETPLAN_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvInt("FLEETPLAN_REDIS_DB", 0),
		RedisKeyPrefix:  getEnv("FLEETPLAN_REDIS_KEY_PREFIX", "fleetplan:"),

		DBBackend: DatabaseBackend(getEnv("FLEETPLAN_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("FLEETPLAN_DB_DSN", ""),

		EventBus:   EventBusBackend(getEnv("FLEETPLAN_EVENT_BUS", string(EventBusMemory))),
		NATSURL:    getEnvAny([]string{"FLEETPLAN_NATS_URL", "NATS_URL"}, ""),
		NATSToken:  getEnvAny([]string{"FLEETPLAN_NATS_TOKEN", "NATS_TOKEN"}, ""),
		InstanceID: getEnv("FLEETPLAN_INSTANCE_ID", ""),

		LeaderElection: getEnvBool("FLEETPLAN_LEADER_ELECTION", false),
		LeaderLease:    getEnvDuration("FLEETPLAN_LEADER_LEASE", 15*time.Second),

		TracingEnabled:    getEnvBool("FLEETPLAN_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnvAny([]string{"FLEETPLAN_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloat("FLEETPLAN_TRACING_SAMPLE_RATE", 1.0),
	}

	// A bare NATS URL selects the NATS bus.
	if cfg.NATSURL != "" && os.Getenv("FLEETPLAN_EVENT_BUS") == "" {
		cfg.EventBus = EventBusNATS
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks backend selections and limits.
func (c *Config) Validate() error {
	switch c.ScheduleBackend {
	case ScheduleMemory, ScheduleRedis:
	default:
		return fmt.Errorf("unsupported schedule backend %q", c.ScheduleBackend)
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis:
	case EventBusNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("FLEETPLAN_NATS_URL must be provided for the nats event bus")
		}
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if c.DBDSN != "" && c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.MaxCommitAttempts < 1 {
		return fmt.Errorf("FLEETPLAN_MAX_COMMIT_ATTEMPTS must be at least 1")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("FLEETPLAN_TRACING_SAMPLE_RATE must be between 0 and 1")
	}
	if c.MutexLease <= 0 || c.MutexPollInterval <= 0 {
		return fmt.Errorf("mutex lease and poll interval must be positive")
	}
	if c.LeaderElection && c.LeaderLease < 3*time.Second {
		return fmt.Errorf("FLEETPLAN_LEADER_LEASE must be at least 3s")
	}

	if strings.EqualFold(c.Environment, "production") {
		if c.ScheduleBackend == ScheduleMemory {
			return fmt.Errorf("FLEETPLAN_SCHEDULE_BACKEND=memory is not shared between adapters; use redis in production")
		}
		if c.DBDSN == "" {
			return fmt.Errorf("FLEETPLAN_DB_DSN must be provided in production")
		}
	}
	return nil
}

// HTTPAddr returns the listen address of the HTTP API.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// LedgerEnabled reports whether compilations are persisted.
func (c *Config) LedgerEnabled() bool {
	return c.DBDSN != ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ROBOT_NAME":          "use FLEETPLAN_ROBOT_NAME",
		"DB_DSN":              "use FLEETPLAN_DB_DSN",
		"MAX_COMMIT_ATTEMPTS": "use FLEETPLAN_MAX_COMMIT_ATTEMPTS",
		"TRACING_ENABLED":     "use FLEETPLAN_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("unprefixed env key %s is ignored; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}
