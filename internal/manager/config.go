package manager

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultBackend        = "sim"
	defaultMaxNumRequests = 64
	defaultMaxBeamWidth   = 1
	defaultMaxSeqLen      = 2048
	defaultIdlePoll       = 5 * time.Millisecond
)

// FetchFunc pulls up to capacity raw requests from upstream. It is called
// once per fetch phase and must not block indefinitely. Returning more than
// capacity is allowed; the excess is rejected as too busy.
type FetchFunc func(capacity int) []RawRequest

// RespondFunc delivers a final response upstream. A returned error is logged
// and counted but never retried.
type RespondFunc func(Response) error

// StopFunc is polled once per iteration; true begins a drain and stop.
type StopFunc func() bool

// ManagerConfig encapsulates all tunables for Manager construction. All
// values are fixed for the lifetime of the Manager.
type ManagerConfig struct {
	// Backend selects a registered executor ("sim", "echo"). Ignored when
	// Executor is set.
	Backend    string
	EnginePath string
	Executor   Executor

	MaxNumRequests          int
	MaxBeamWidth            int
	MaxSeqLen               int
	MaxTokensInPagedKVCache int
	KVBlockSize             int
	VocabSize               int
	// Defaults overrides DefaultSampling for absent optional fields.
	Defaults *SamplingConfig

	Fetch      FetchFunc
	Respond    RespondFunc
	StopSignal StopFunc
	// Notify, when set, wakes an idle loop early (e.g. on a new submission).
	Notify <-chan struct{}

	// IdlePoll is how long an empty loop waits before fetching again.
	IdlePoll time.Duration
	// DrainTimeout bounds the drain after a stop; zero waits until every
	// live request finishes.
	DrainTimeout time.Duration

	Logger    *zerolog.Logger
	Publisher EventPublisher
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	if cfg.MaxNumRequests <= 0 {
		cfg.MaxNumRequests = defaultMaxNumRequests
	}
	if cfg.MaxBeamWidth <= 0 {
		cfg.MaxBeamWidth = defaultMaxBeamWidth
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultMaxSeqLen
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = defaultIdlePoll
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	return cfg
}

func (cfg ManagerConfig) validate() error {
	if cfg.MaxTokensInPagedKVCache < 0 {
		return fmt.Errorf("max tokens in paged kv cache must be >= 0, got %d", cfg.MaxTokensInPagedKVCache)
	}
	if cfg.VocabSize < 0 {
		return fmt.Errorf("vocab size must be >= 0, got %d", cfg.VocabSize)
	}
	if cfg.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must be >= 0, got %s", cfg.DrainTimeout)
	}
	return nil
}

func (cfg ManagerConfig) limits() Limits {
	d := DefaultSampling
	if cfg.Defaults != nil {
		d = *cfg.Defaults
	}
	return Limits{
		VocabSize:    cfg.VocabSize,
		MaxSeqLen:    cfg.MaxSeqLen,
		MaxBeamWidth: cfg.MaxBeamWidth,
		Defaults:     d,
	}
}

func (cfg ManagerConfig) executorConfig() ExecutorConfig {
	return ExecutorConfig{
		EnginePath:              cfg.EnginePath,
		MaxNumRequests:          cfg.MaxNumRequests,
		MaxBeamWidth:            cfg.MaxBeamWidth,
		MaxSeqLen:               cfg.MaxSeqLen,
		VocabSize:               cfg.VocabSize,
		MaxTokensInPagedKVCache: cfg.MaxTokensInPagedKVCache,
		KVBlockSize:             cfg.KVBlockSize,
	}
}
