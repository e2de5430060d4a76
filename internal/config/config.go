package config

import (
	"path/filepath"
	"time"
)

type Config struct {
	Workspace WorkspaceConfig
	Storage   StorageConfig
	Server    ServerConfig
	Log       LogConfig
	Runner    RunnerConfig
	Scheduler SchedulerConfig
	Alert     AlertConfig
}

type WorkspaceConfig struct {
	Root string
}

type StorageConfig struct {
	// DataDir is resolved against Workspace.Root when relative.
	DataDir string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

type RunnerConfig struct {
	SensorTimeout time.Duration
	MaxSensors    int
	MaxQueries    int
	// Concurrency of 1 runs adapters sequentially.
	Concurrency int
	SensorsFile string
	Python      string
}

type SchedulerConfig struct {
	PollInterval time.Duration
}

// AlertConfig carries the alert scoring weights and thresholds.
type AlertConfig struct {
	SignalWeight    int
	SourceWeight    int
	MetricWeight    int
	MetricThreshold int
	MinScore        int
	HighScore       int
}

func defaults() Config {
	return Config{
		Workspace: WorkspaceConfig{Root: "."},
		Storage:   StorageConfig{DataDir: "data"},
		Server:    ServerConfig{Port: 4100},
		Log:       LogConfig{Level: "info"},
		Runner: RunnerConfig{
			SensorTimeout: 180 * time.Second,
			MaxSensors:    6,
			MaxQueries:    6,
			Concurrency:   1,
			SensorsFile:   "sensors.toml",
			Python:        "python3",
		},
		Scheduler: SchedulerConfig{PollInterval: 5 * time.Minute},
		Alert: AlertConfig{
			SignalWeight:    2,
			SourceWeight:    1,
			MetricWeight:    1,
			MetricThreshold: 50,
			MinScore:        2,
			HighScore:       3,
		},
	}
}

// Load reads configuration from the JSON file backend and environment
// variables.
//
// The backend is a flat JSON object at ConfigFilePath; a file that exists
// but cannot be parsed is an error. Environment variables (SIGNEX_*)
// override file values. Secrets such as the API token are read from the
// environment only.
func Load() (Config, error) {
	b, err := openFileBackend()
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// DataPath returns the storage directory, resolved against the workspace
// root when relative.
func (c Config) DataPath() string {
	if filepath.IsAbs(c.Storage.DataDir) {
		return c.Storage.DataDir
	}
	return filepath.Join(c.Workspace.Root, c.Storage.DataDir)
}

// SensorsPath returns the sensor registry file, resolved like DataPath.
func (c Config) SensorsPath() string {
	if filepath.IsAbs(c.Runner.SensorsFile) {
		return c.Runner.SensorsFile
	}
	return filepath.Join(c.Workspace.Root, c.Runner.SensorsFile)
}
