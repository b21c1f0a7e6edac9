package manager

import (
	"reflect"
	"slices"
)

// RequestState is the lifecycle state of an admitted request.
type RequestState string

const (
	StateQueued    RequestState = "queued"
	StateActive    RequestState = "active"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
)

// Terminal reports whether no further advancement happens in this state.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SamplingConfig holds the resolved sampling parameters of a request.
type SamplingConfig struct {
	EndID             int32
	PadID             int32
	Temperature       float32
	TopK              int
	TopP              float32
	LengthPenalty     float32
	RepetitionPenalty float32
	MinLength         int
	PresencePenalty   float32
	RandomSeed        uint64
}

// ResourceHandle is an opaque per-request allocation (for example a set of KV
// cache blocks). The owning record releases it exactly once.
type ResourceHandle interface {
	Release()
}

// Request is the validated record of one admitted request. Records are created
// by BuildRequest, owned by the loop, and mutated by the Executor during the
// step phase through the methods below.
type Request struct {
	ID           uint64
	MaxNewTokens int
	BeamWidth    int
	Sampling     SamplingConfig

	prompt   []int32
	output   []int32
	state    RequestState
	failure  string
	resource ResourceHandle
	released bool
}

// Prompt returns the input tokens. The slice must not be modified.
func (r *Request) Prompt() []int32 { return r.prompt }

// State returns the current lifecycle state.
func (r *Request) State() RequestState { return r.state }

// OutputTokens returns the tokens generated so far. The slice must not be modified.
func (r *Request) OutputTokens() []int32 { return r.output }

// Generated is the number of output tokens produced so far.
func (r *Request) Generated() int { return len(r.output) }

// FailureReason returns the reason passed to Fail, if any.
func (r *Request) FailureReason() string { return r.failure }

// Resource returns the attached resource handle, or nil.
func (r *Request) Resource() ResourceHandle { return r.resource }

// AppendToken appends one generated token. It is a no-op once the request is terminal.
func (r *Request) AppendToken(tok int32) {
	if r.state.Terminal() {
		return
	}
	r.output = append(r.output, tok)
}

// AttachResource hands ownership of h to the record. A second attach releases
// the previous handle first so nothing leaks.
func (r *Request) AttachResource(h ResourceHandle) {
	if r.resource != nil && !sameHandle(r.resource, h) {
		r.resource.Release()
	}
	r.resource = h
	r.released = false
}

// sameHandle reports whether a and b are the same handle. Handles of
// uncomparable types are never considered the same.
func sameHandle(a, b ResourceHandle) bool {
	if b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Complete marks the request as completed.
func (r *Request) Complete() {
	if r.state.Terminal() {
		return
	}
	r.state = StateCompleted
}

// Fail marks the request as failed with a reason.
func (r *Request) Fail(reason string) {
	if r.state.Terminal() {
		return
	}
	r.state = StateFailed
	r.failure = reason
}

// releaseResource releases the handle at most once.
func (r *Request) releaseResource() {
	if r.resource == nil || r.released {
		return
	}
	r.resource.Release()
	r.released = true
	r.resource = nil
}

// Response is the detached final result of a request handed to upstream.
// OutputTokens is a copy; nothing in a Response aliases table state.
type Response struct {
	ID           uint64
	OutputTokens []int32
	State        RequestState
	// Err is set for failed, rejected and dropped requests.
	Err error
}

func (r *Request) response() Response {
	resp := Response{
		ID:           r.ID,
		OutputTokens: slices.Clone(r.output),
		State:        r.state,
	}
	if r.state == StateFailed {
		resp.Err = &RequestFailedError{ID: r.ID, Reason: r.failure}
	}
	return resp
}

// LoopState is the orchestrator loop state.
type LoopState string

const (
	LoopIdle     LoopState = "idle"
	LoopFetch    LoopState = "fetch"
	LoopStep     LoopState = "step"
	LoopReturn   LoopState = "return"
	LoopPoll     LoopState = "poll"
	LoopStopping LoopState = "stopping"
	LoopStopped  LoopState = "stopped"
)

// Snapshot is a read-only projection of the manager state, refreshed by the
// loop at the end of every iteration.
type Snapshot struct {
	Loop LoopState
	// Draining is set once a stop was observed; phases keep running until
	// the table is empty but nothing new is admitted.
	Draining         bool
	Queued           int
	Active           int
	Admitted         uint64
	Rejected         uint64
	Completed        uint64
	Failed           uint64
	Dropped          uint64
	DeliveryFailures uint64
	// CallbackErrors counts failed fetch and stop-signal callbacks; they do
	// not stop the loop.
	CallbackErrors  uint64
	LastCallbackErr string
	Err             string
}
