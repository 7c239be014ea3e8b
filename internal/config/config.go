package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional config.yaml at the root of the blackboard home.
// Flags override anything set here; zero values fall through to the
// built-in defaults.
type File struct {
	Image            string `yaml:"image"`
	Memory           string `yaml:"memory"`
	DroneMemory      string `yaml:"drone_memory"`
	Concurrency      int    `yaml:"concurrency"`
	MaxIterations    int    `yaml:"max_iterations"`
	PollSeconds      int    `yaml:"poll_seconds"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
}

// Defaults used when neither flags nor config.yaml specify a value.
const (
	DefaultImage            = "blackboard-worker"
	DefaultMemory           = "512m"
	DefaultDroneMemory      = "1g"
	DefaultConcurrency      = 3
	DefaultMaxIterations    = 50
	DefaultPollInterval     = 10 * time.Second
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultStopTimeout      = 30 * time.Second
)

// Load reads config.yaml under home. A missing file is not an error;
// the zero File is returned so defaults apply.
func Load(home string) (File, error) {
	var f File
	raw, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// ImageOr returns the configured image or the default.
func (f File) ImageOr(flag string) string {
	return firstNonEmpty(flag, f.Image, DefaultImage)
}

// MemoryOr returns the configured memory limit or the default.
func (f File) MemoryOr(flag string) string {
	return firstNonEmpty(flag, f.Memory, DefaultMemory)
}

// DroneMemoryOr returns the drone memory limit or the default.
func (f File) DroneMemoryOr(flag string) string {
	return firstNonEmpty(flag, f.DroneMemory, DefaultDroneMemory)
}

// ConcurrencyOr returns the configured concurrency or the default.
func (f File) ConcurrencyOr(flag int) int {
	if flag > 0 {
		return flag
	}
	if f.Concurrency > 0 {
		return f.Concurrency
	}
	return DefaultConcurrency
}

// MaxIterationsOr returns the configured iteration cap or the default.
func (f File) MaxIterationsOr(flag int) int {
	if flag > 0 {
		return flag
	}
	if f.MaxIterations > 0 {
		return f.MaxIterations
	}
	return DefaultMaxIterations
}

// PollInterval returns the monitor poll interval.
func (f File) PollInterval() time.Duration {
	if f.PollSeconds > 0 {
		return time.Duration(f.PollSeconds) * time.Second
	}
	return DefaultPollInterval
}

// HeartbeatTimeout returns the stale-worker heartbeat timeout.
func (f File) HeartbeatTimeout() time.Duration {
	if f.HeartbeatSeconds > 0 {
		return time.Duration(f.HeartbeatSeconds) * time.Second
	}
	return DefaultHeartbeatTimeout
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
