package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeExecutor runs the background job executor runtime.
	ServiceModeExecutor ServiceMode = "executor"
	// ServiceModeReconciler runs the stale-job reconciler.
	ServiceModeReconciler ServiceMode = "reconciler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeExecutor,
		ServiceModeReconciler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	validModes := ValidServiceModes()
	valid := make(map[ServiceMode]bool, len(validModes))
	names := make([]string, 0, len(validModes))
	for _, mode := range validModes {
		valid[mode] = true
		names = append(names, string(mode))
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		if !valid[mode] {
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: %s)",
				serviceName, strings.Join(names, ", "),
			)
		}
		services[mode] = true
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ExecutorConfig contains executor runtime configuration.
type ExecutorConfig struct {
	// MaxConcurrent bounds the number of jobs executing at once per process.
	MaxConcurrent int `env:"EXECUTOR_MAX_CONCURRENT" envDefault:"16"`

	// JobTimeout bounds the wall-clock time of a single execution. The
	// handler context is cancelled when it elapses.
	JobTimeout time.Duration `env:"EXECUTOR_JOB_TIMEOUT" envDefault:"10m"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.MaxConcurrent < 1 {
		e.MaxConcurrent = 1
	}
	if e.JobTimeout < time.Second {
		e.JobTimeout = time.Second
	}
}

// ReconcilerConfig contains stale-job reconciler configuration.
type ReconcilerConfig struct {
	// Interval is the reconciler tick interval.
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"1m"`

	// JobTimeout is the staleness threshold: non-terminal jobs whose
	// updated_at is older than this are force-failed.
	JobTimeout time.Duration `env:"RECONCILER_JOB_TIMEOUT" envDefault:"30m"`

	// BatchSize is the maximum number of rows to process per sweep batch.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"RECONCILER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reconciler configuration values.
func (r *ReconcilerConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	// The timeout must exceed the sweep interval or healthy jobs get failed
	// between heartbeats of their own progress.
	if r.JobTimeout < time.Minute {
		r.JobTimeout = time.Minute
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
