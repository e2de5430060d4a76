package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "workspace.root", typ: kString, env: "SIGNEX_WORKSPACE_ROOT",
		apply:   func(cfg *Config, v any) { cfg.Workspace.Root = v.(string) },
		extract: func(cfg Config) any { return cfg.Workspace.Root },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SIGNEX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "server.port", typ: kInt, env: "SIGNEX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SIGNEX_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "SIGNEX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "runner.sensor_timeout", typ: kDuration, env: "SIGNEX_RUNNER_SENSOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Runner.SensorTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Runner.SensorTimeout },
	},
	{
		key: "runner.max_sensors", typ: kInt, env: "SIGNEX_RUNNER_MAX_SENSORS",
		apply:   func(cfg *Config, v any) { cfg.Runner.MaxSensors = v.(int) },
		extract: func(cfg Config) any { return cfg.Runner.MaxSensors },
	},
	{
		key: "runner.max_queries", typ: kInt, env: "SIGNEX_RUNNER_MAX_QUERIES",
		apply:   func(cfg *Config, v any) { cfg.Runner.MaxQueries = v.(int) },
		extract: func(cfg Config) any { return cfg.Runner.MaxQueries },
	},
	{
		key: "runner.concurrency", typ: kInt, env: "SIGNEX_RUNNER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Runner.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Runner.Concurrency },
	},
	{
		key: "runner.sensors_file", typ: kString, env: "SIGNEX_RUNNER_SENSORS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Runner.SensorsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Runner.SensorsFile },
	},
	{
		key: "runner.python", typ: kString, env: "SIGNEX_RUNNER_PYTHON",
		apply:   func(cfg *Config, v any) { cfg.Runner.Python = v.(string) },
		extract: func(cfg Config) any { return cfg.Runner.Python },
	},
	{
		key: "scheduler.poll_interval", typ: kDuration, env: "SIGNEX_SCHEDULER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.PollInterval },
	},
	{
		key: "alert.signal_weight", typ: kInt, env: "SIGNEX_ALERT_SIGNAL_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Alert.SignalWeight = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.SignalWeight },
	},
	{
		key: "alert.source_weight", typ: kInt, env: "SIGNEX_ALERT_SOURCE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Alert.SourceWeight = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.SourceWeight },
	},
	{
		key: "alert.metric_weight", typ: kInt, env: "SIGNEX_ALERT_METRIC_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Alert.MetricWeight = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.MetricWeight },
	},
	{
		key: "alert.metric_threshold", typ: kInt, env: "SIGNEX_ALERT_METRIC_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Alert.MetricThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.MetricThreshold },
	},
	{
		key: "alert.min_score", typ: kInt, env: "SIGNEX_ALERT_MIN_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Alert.MinScore = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.MinScore },
	},
	{
		key: "alert.high_score", typ: kInt, env: "SIGNEX_ALERT_HIGH_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Alert.HighScore = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.HighScore },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
