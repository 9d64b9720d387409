package core

import (
	"context"
	"sync"

	"paramflow/pkg/domain"
)

// PreExecutionHook may amend a namespace's staged values right before they
// are committed. Returning nil values leaves the input unchanged; returning
// an error fails the commit.
type PreExecutionHook func(ctx context.Context, values domain.Values) (domain.Values, error)

// HookRegistry holds at most one pre-execution hook per namespace.
type HookRegistry struct {
	mu     sync.RWMutex
	hooks  map[string]PreExecutionHook
	logger Logger
}

// NewHookRegistry constructs an empty registry.
func NewHookRegistry(logger Logger) *HookRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HookRegistry{hooks: make(map[string]PreExecutionHook), logger: logger}
}

// Register installs hook for namespace, replacing (with a warning) any hook
// registered before.
func (r *HookRegistry) Register(namespace string, hook PreExecutionHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	_, exists := r.hooks[namespace]
	r.hooks[namespace] = hook
	r.mu.Unlock()
	if exists {
		r.logger.Warn("pre-execution hook already registered, overwriting", "namespace", namespace)
	}
}

// Deregister removes the namespace's hook, reporting whether one existed.
func (r *HookRegistry) Deregister(namespace string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hooks[namespace]
	delete(r.hooks, namespace)
	return ok
}

// Has reports whether namespace has a hook.
func (r *HookRegistry) Has(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hooks[namespace]
	return ok
}

// Run applies the namespace's hook to a copy of values.
func (r *HookRegistry) Run(ctx context.Context, namespace string, values domain.Values) (domain.Values, error) {
	r.mu.RLock()
	hook := r.hooks[namespace]
	r.mu.RUnlock()
	staged := values.Clone()
	if hook == nil {
		return staged, nil
	}
	amended, err := hook(ctx, staged)
	if err != nil {
		return nil, err
	}
	if amended == nil {
		return staged, nil
	}
	return amended, nil
}
