package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Manager owns the request table and the single background loop that drives
// it. All table access happens on the loop goroutine; other goroutines only
// observe snapshots.
type Manager struct {
	backend      string
	enginePath   string
	exec         Executor
	limits       Limits
	maxRequests  int
	idlePoll     time.Duration
	drainTimeout time.Duration

	fetch      FetchFunc
	respond    RespondFunc
	stopSignal StopFunc
	notify     <-chan struct{}

	log       zerolog.Logger
	publisher EventPublisher
	ctx       context.Context

	// loop-owned
	table         *RequestTable
	stopping      bool
	drainDeadline time.Time

	// lifecycle guard
	shutdown  atomic.Bool
	closeOnce sync.Once
	wake      chan struct{}
	done      chan struct{}

	mu        sync.RWMutex
	snap      Snapshot
	err       error
	startTime time.Time
}

// New validates cfg, constructs the executor and starts the loop.
func New(cfg ManagerConfig) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	lim := cfg.limits()
	if _, err := resolveSampling(RawRequest{}, lim, lim.MaxSeqLen); err != nil {
		return nil, fmt.Errorf("sampling defaults: %w", err)
	}
	exec := cfg.Executor
	backend := cfg.Backend
	if exec == nil {
		var err error
		if exec, err = NewExecutor(cfg.Backend, cfg.executorConfig()); err != nil {
			return nil, err
		}
	} else {
		backend = "custom"
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "orchestrator").Str("backend", backend).Logger()
	}
	m := &Manager{
		backend:      backend,
		enginePath:   cfg.EnginePath,
		exec:         exec,
		limits:       lim,
		maxRequests:  cfg.MaxNumRequests,
		idlePoll:     cfg.IdlePoll,
		drainTimeout: cfg.DrainTimeout,
		fetch:        cfg.Fetch,
		respond:      cfg.Respond,
		stopSignal:   cfg.StopSignal,
		notify:       cfg.Notify,
		log:          log,
		publisher:    cfg.Publisher,
		table:        NewRequestTable(),
		wake:         make(chan struct{}),
		done:         make(chan struct{}),
		snap:         Snapshot{Loop: LoopIdle},
		startTime:    time.Now(),
	}
	m.ctx = log.WithContext(context.Background())
	go m.run()
	return m, nil
}

// Close requests shutdown and blocks until the loop has drained and stopped.
// An in-flight step is never interrupted. It returns the loop's fatal error,
// if any; calls after the first are no-ops and return nil.
func (m *Manager) Close() error {
	first := false
	m.closeOnce.Do(func() {
		first = true
		m.shutdown.Store(true)
		close(m.wake)
		<-m.done
		if err := m.exec.Close(); err != nil {
			m.log.Warn().Err(err).Msg("executor close failed")
		}
	})
	if !first {
		return nil
	}
	return m.Err()
}

// Done is closed once the loop has stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the fatal, phase-scoped error that stopped the loop, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// LoopState returns the current loop state.
func (m *Manager) LoopState() LoopState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Loop
}

// Ready reports whether new requests can still be admitted.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil || m.shutdown.Load() {
		return false
	}
	return !m.snap.Draining && m.snap.Loop != LoopStopped
}

// Backend returns the executor backend name.
func (m *Manager) Backend() string { return m.backend }

// Limits returns the admission limits in force.
func (m *Manager) Limits() Limits { return m.limits }

// setLoopState records the phase being run. Once stopping, the state stays
// stopping until the loop has stopped.
func (m *Manager) setLoopState(s LoopState) {
	if m.stopping && s != LoopStopped {
		return
	}
	m.mu.Lock()
	m.snap.Loop = s
	m.mu.Unlock()
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
		m.snap.Err = err.Error()
	}
	m.mu.Unlock()
}
