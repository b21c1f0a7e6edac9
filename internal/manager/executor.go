package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor advances every request in the view by one unit of work. It is the
// only component that mutates request state during the step phase: it may
// append tokens, attach resources, and complete or fail requests. Step may
// block for the duration of the computation.
type Executor interface {
	Step(ctx context.Context, view ActiveView) error
	// Close releases engine resources. Called once after the loop has stopped.
	Close() error
}

// ExecutorConfig is handed to a backend factory at construction time.
type ExecutorConfig struct {
	// EnginePath is the engine or model location; backends that need no files ignore it.
	EnginePath     string
	MaxNumRequests int
	MaxBeamWidth   int
	MaxSeqLen      int
	VocabSize      int
	// MaxTokensInPagedKVCache caps the shared KV cache. Zero sizes the cache
	// for MaxNumRequests full-length sequences.
	MaxTokensInPagedKVCache int
	// KVBlockSize is the number of tokens per cache block.
	KVBlockSize int
}

// ExecutorFactory builds a backend.
type ExecutorFactory func(cfg ExecutorConfig) (Executor, error)

var (
	executorsMu sync.RWMutex
	executors   = map[string]ExecutorFactory{}
)

// RegisterExecutor makes a backend selectable by name. Registering a name
// twice replaces the previous factory.
func RegisterExecutor(name string, f ExecutorFactory) {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	executors[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	executorsMu.RLock()
	defer executorsMu.RUnlock()
	out := make([]string, 0, len(executors))
	for name := range executors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewExecutor constructs the named backend.
func NewExecutor(name string, cfg ExecutorConfig) (Executor, error) {
	executorsMu.RLock()
	f, ok := executors[name]
	executorsMu.RUnlock()
	if !ok {
		return nil, unknownBackendError{name: name}
	}
	return f(cfg)
}

type unknownBackendError struct{ name string }

func (e unknownBackendError) Error() string {
	return fmt.Sprintf("unknown executor backend %q (available: %v)", e.name, Backends())
}

// IsUnknownBackend reports whether err came from selecting an unregistered backend.
func IsUnknownBackend(err error) bool {
	_, ok := err.(unknownBackendError)
	return ok
}

// ExecutorFunc adapts a function to Executor with a no-op Close.
type ExecutorFunc func(ctx context.Context, view ActiveView) error

func (f ExecutorFunc) Step(ctx context.Context, view ActiveView) error { return f(ctx, view) }

func (f ExecutorFunc) Close() error { return nil }
