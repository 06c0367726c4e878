package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/roostlabs/roost/errors"
)

// JobExecutor executes a claimed job. The worker pool only depends on this
// interface; production wiring uses a RegistryExecutor.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// JobHandler executes jobs for one handler name.
type JobHandler interface {
	JobExecutor

	// Name returns the handler name jobs are routed by, e.g. "repos.save".
	Name() string
}

// HandlerFunc adapts a function to the JobHandler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return h.Fn(ctx, job)
}

// HandlerRegistry maps handler names to handlers. Registration happens once
// at startup; duplicate names indicate a wiring bug and panic immediately.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]JobHandler)}
}

// Register adds a handler. Panics if the name is already taken.
func (r *HandlerRegistry) Register(h JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		panic("queue: duplicate handler registration: " + name)
	}
	r.handlers[name] = h
}

// Get returns the handler for a name.
func (r *HandlerRegistry) Get(name string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryExecutor routes jobs to their registered handler, with an optional
// fallback executor for unrouted jobs.
type RegistryExecutor struct {
	registry *HandlerRegistry
	fallback JobExecutor
}

// NewRegistryExecutor creates an executor over a registry. fallback may be
// nil, in which case unrouted jobs fail.
func NewRegistryExecutor(registry *HandlerRegistry, fallback JobExecutor) *RegistryExecutor {
	return &RegistryExecutor{registry: registry, fallback: fallback}
}

// Execute dispatches the job to its handler.
func (e *RegistryExecutor) Execute(ctx context.Context, job *Job) error {
	if handler, ok := e.registry.Get(job.HandlerName); ok {
		return handler.Execute(ctx, job)
	}
	if e.fallback != nil {
		return e.fallback.Execute(ctx, job)
	}
	return errors.Newf("no handler registered for %q", job.HandlerName)
}
