package upstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"batchd/internal/manager"
	"batchd/pkg/types"
)

const (
	defaultMaxQueueDepth = 256
	defaultMaxWait       = 30 * time.Second
	// idMask keeps assigned ids exact for JSON clients that decode numbers as doubles.
	idMask = 1<<53 - 1
)

// QueueConfig tunes the in-process submission queue.
type QueueConfig struct {
	// MaxQueueDepth bounds outstanding submissions (waiting or in flight).
	MaxQueueDepth int
	// MaxWait bounds how long Submit waits for a free queue slot.
	MaxWait time.Duration
	Logger  *zerolog.Logger
}

// Queue is the in-process upstream: callers Submit and block until the
// orchestrator responds, the orchestrator drains it through Fetch and Respond.
type Queue struct {
	slots   chan struct{}
	maxWait time.Duration
	notify  chan struct{}
	log     zerolog.Logger

	mu      sync.Mutex
	pending []manager.RawRequest
	waiters map[uint64]chan manager.Response
	closed  bool
}

// NewQueue returns an open queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "queue").Logger()
	}
	return &Queue{
		slots:   make(chan struct{}, cfg.MaxQueueDepth),
		maxWait: cfg.MaxWait,
		notify:  make(chan struct{}, 1),
		log:     log,
		waiters: make(map[uint64]chan manager.Response),
	}
}

// Submit enqueues raw and blocks until its final response. A zero id is
// replaced by a fresh one. The returned error covers queueing only
// (backpressure, duplicate id, shutdown, ctx); request outcomes, rejections
// included, arrive in Response.Err.
func (q *Queue) Submit(ctx context.Context, raw manager.RawRequest) (manager.Response, error) {
	if err := ctx.Err(); err != nil {
		return manager.Response{}, err
	}
	timer := time.NewTimer(q.maxWait)
	defer timer.Stop()
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return manager.Response{}, ctx.Err()
	case <-timer.C:
		return manager.Response{}, &manager.CapacityError{Limit: cap(q.slots), What: "queue depth"}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.slots
		return manager.Response{}, manager.ErrStopped
	}
	if raw.ID == 0 {
		raw.ID = q.newIDLocked()
	} else if _, ok := q.waiters[raw.ID]; ok {
		q.mu.Unlock()
		<-q.slots
		return manager.Response{}, &manager.DuplicateIDError{ID: raw.ID}
	}
	ch := make(chan manager.Response, 1)
	q.waiters[raw.ID] = ch
	q.pending = append(q.pending, raw)
	q.mu.Unlock()
	q.signal()
	q.log.Debug().Uint64("request_id", raw.ID).Msg("submitted")

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		q.abandon(raw.ID)
		return manager.Response{}, ctx.Err()
	}
}

// abandon withdraws a request that was not fetched yet. Once fetched the
// waiter stays registered so the eventual response frees its slot.
func (q *Queue) abandon(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.pending {
		if r.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.waiters, id)
			<-q.slots
			return
		}
	}
}

func (q *Queue) newIDLocked() uint64 {
	for {
		u := uuid.New()
		id := binary.BigEndian.Uint64(u[:8]) & idMask
		if _, taken := q.waiters[id]; id != 0 && !taken {
			return id
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Notify fires after a submission; wire it to ManagerConfig.Notify.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Fetch removes up to capacity waiting submissions in FIFO order. It never blocks.
func (q *Queue) Fetch(capacity int) []manager.RawRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(capacity, len(q.pending))
	if n <= 0 {
		return nil
	}
	out := make([]manager.RawRequest, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	return out
}

// Respond hands resp to its submitter and frees the queue slot.
func (q *Queue) Respond(resp manager.Response) error {
	q.mu.Lock()
	ch, ok := q.waiters[resp.ID]
	if ok {
		delete(q.waiters, resp.ID)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("no submitter waiting for request %d", resp.ID)
	}
	<-q.slots
	ch <- resp
	return nil
}

// Len returns the number of waiting and outstanding (waiting or in flight) submissions.
func (q *Queue) Len() (waiting, outstanding int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.waiters)
}

// Close rejects further submissions and fails every outstanding one with
// ErrStopped. Call it after the orchestrator has stopped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, ch := range q.waiters {
		ch <- manager.Response{ID: id, State: manager.StateFailed, Err: manager.ErrStopped}
		delete(q.waiters, id)
		<-q.slots
	}
	q.pending = nil
}

// Generate submits a wire request and converts the outcome. Rejections and
// drops come back as errors so transports can map them to status codes; an
// executor failure is a regular response in state failed.
func (q *Queue) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	resp, err := q.Submit(ctx, FromWire(req))
	if err != nil {
		return types.GenerateResponse{}, err
	}
	if isRejection(resp.Err) {
		return types.GenerateResponse{}, resp.Err
	}
	return ToWire(resp), nil
}

func isRejection(err error) bool {
	return manager.IsValidation(err) || manager.IsDuplicateID(err) || manager.IsTooBusy(err) ||
		manager.IsDropped(err) || errors.Is(err, manager.ErrStopped)
}
