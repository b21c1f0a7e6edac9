package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

// raw builds a minimal valid raw request.
func raw(id uint64, outLen int, prompt ...int32) RawRequest {
	return RawRequest{ID: id, InputIDs: prompt, RequestOutputLen: ptr(outLen)}
}

// fakeUpstream hands out scripted batches and records every response.
type fakeUpstream struct {
	mu      sync.Mutex
	batches [][]RawRequest
	caps    []int
	resps   []Response
	failing bool
	stop    atomic.Bool
}

func (u *fakeUpstream) push(batch ...RawRequest) {
	u.mu.Lock()
	u.batches = append(u.batches, batch)
	u.mu.Unlock()
}

func (u *fakeUpstream) Fetch(capacity int) []RawRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.caps = append(u.caps, capacity)
	if len(u.batches) == 0 {
		return nil
	}
	b := u.batches[0]
	u.batches = u.batches[1:]
	return b
}

func (u *fakeUpstream) Respond(r Response) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resps = append(u.resps, r)
	if u.failing {
		return errSinkDown
	}
	return nil
}

func (u *fakeUpstream) Stop() bool { return u.stop.Load() }

func (u *fakeUpstream) responses() []Response {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Response(nil), u.resps...)
}

func (u *fakeUpstream) pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.batches)
}

func (u *fakeUpstream) config() ManagerConfig {
	return ManagerConfig{Fetch: u.Fetch, Respond: u.Respond, StopSignal: u.Stop, IdlePoll: time.Millisecond}
}

// waitResponses blocks until at least n responses were delivered.
func (u *fakeUpstream) waitResponses(t *testing.T, n int) []Response {
	t.Helper()
	waitFor(t, func() bool { return len(u.responses()) >= n })
	return u.responses()
}

var errSinkDown = errors.New("sink down")

// countingHandle counts releases.
type countingHandle struct{ n atomic.Int32 }

func (h *countingHandle) Release() { h.n.Add(1) }

// stepper is an executor driven by a per-request function.
func stepper(f func(r *Request)) ExecutorFunc {
	return func(ctx context.Context, view ActiveView) error {
		for r := range view.All() {
			f(r)
		}
		return nil
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
}

func asFailed(err error, target **RequestFailedError) bool {
	return errors.As(err, target)
}
