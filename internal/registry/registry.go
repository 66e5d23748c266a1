// Package registry maps job type names to their executable handlers.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/openparcel/jobcore/internal/errors"
)

// Handler holds the callbacks registered for one job type. Validate runs
// synchronously at submission; Execute runs on the executor goroutine.
type Handler struct {
	// Validate checks the submitted params before a row is written. A nil
	// Validate accepts any params.
	Validate func(params json.RawMessage) error
	// Execute performs the work and returns the result payload persisted on
	// completion.
	Execute func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Registry is a concurrency-safe mapping of job type name to Handler.
// Registration happens at boot; lookups happen on every submit and execute.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler to a job type name. Registering the same name
// twice is a configuration bug and fails so boot can abort.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type name is required")
	}
	if h.Execute == nil {
		return fmt.Errorf("job type %q: execute function is required", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("job type %q is already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for a job type, or an unknown_job_type error.
func (r *Registry) Lookup(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[jobType]
	if !ok {
		return Handler{}, apperrors.UnknownJobType(jobType)
	}
	return h, nil
}

// Types returns the registered job type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
