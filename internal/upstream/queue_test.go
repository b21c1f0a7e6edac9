package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchd/internal/manager"
	"batchd/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func rawReq(id uint64, prompt ...int32) manager.RawRequest {
	return manager.RawRequest{ID: id, InputIDs: prompt, RequestOutputLen: ptr(4)}
}

// submitAsync runs Submit in the background and returns its result channel.
func submitAsync(ctx context.Context, q *Queue, raw manager.RawRequest) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, raw)
		done <- err
	}()
	return done
}

func waitWaiting(t *testing.T, q *Queue, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		w, _ := q.Len()
		return w >= n
	}, 2*time.Second, time.Millisecond)
}

func TestQueueRoundTrip(t *testing.T) {
	q := NewQueue(QueueConfig{})
	type result struct {
		resp manager.Response
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := q.Submit(context.Background(), rawReq(5, 1, 2))
		got <- result{resp, err}
	}()
	select {
	case <-q.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after submit")
	}

	batch := q.Fetch(8)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(5), batch[0].ID)
	assert.Empty(t, q.Fetch(8))

	require.NoError(t, q.Respond(manager.Response{ID: 5, State: manager.StateCompleted, OutputTokens: []int32{9}}))
	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, manager.StateCompleted, r.resp.State)
	assert.Equal(t, []int32{9}, r.resp.OutputTokens)

	_, outstanding := q.Len()
	assert.Zero(t, outstanding)
	assert.Error(t, q.Respond(manager.Response{ID: 5}), "second response has no waiter")
}

func TestQueueAssignsIDs(t *testing.T) {
	q := NewQueue(QueueConfig{})
	submitAsync(context.Background(), q, rawReq(0, 1))
	submitAsync(context.Background(), q, rawReq(0, 1))
	waitWaiting(t, q, 2)
	batch := q.Fetch(2)
	require.Len(t, batch, 2)
	assert.NotZero(t, batch[0].ID)
	assert.NotEqual(t, batch[0].ID, batch[1].ID)
	assert.LessOrEqual(t, batch[0].ID, uint64(idMask))
}

func TestQueueRejectsOutstandingDuplicate(t *testing.T) {
	q := NewQueue(QueueConfig{})
	submitAsync(context.Background(), q, rawReq(7, 1))
	waitWaiting(t, q, 1)
	_, err := q.Submit(context.Background(), rawReq(7, 2))
	assert.True(t, manager.IsDuplicateID(err), "got %v", err)
}

func TestQueueDepthBackpressure(t *testing.T) {
	q := NewQueue(QueueConfig{MaxQueueDepth: 1, MaxWait: 10 * time.Millisecond})
	submitAsync(context.Background(), q, rawReq(1, 1))
	waitWaiting(t, q, 1)
	_, err := q.Submit(context.Background(), rawReq(2, 1))
	assert.True(t, manager.IsTooBusy(err), "got %v", err)
}

func TestQueueFetchHonoursCapacity(t *testing.T) {
	q := NewQueue(QueueConfig{})
	for id := uint64(1); id <= 3; id++ {
		submitAsync(context.Background(), q, rawReq(id, 1))
		waitWaiting(t, q, int(id))
	}
	first := q.Fetch(2)
	require.Len(t, first, 2)
	assert.Equal(t, uint64(1), first[0].ID)
	assert.Equal(t, uint64(2), first[1].ID)
	assert.Nil(t, q.Fetch(0))
	rest := q.Fetch(5)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(3), rest[0].ID)
}

func TestQueueCancelBeforeFetchWithdraws(t *testing.T) {
	q := NewQueue(QueueConfig{MaxQueueDepth: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := submitAsync(ctx, q, rawReq(1, 1))
	waitWaiting(t, q, 1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, q.Fetch(4))

	// the slot is free again
	submitAsync(context.Background(), q, rawReq(2, 1))
	waitWaiting(t, q, 1)
}

func TestQueueCloseFailsOutstanding(t *testing.T) {
	q := NewQueue(QueueConfig{})
	got := make(chan manager.Response, 1)
	go func() {
		resp, _ := q.Submit(context.Background(), rawReq(1, 1))
		got <- resp
	}()
	waitWaiting(t, q, 1)
	q.Close()
	resp := <-got
	assert.Equal(t, manager.StateFailed, resp.State)
	assert.True(t, errors.Is(resp.Err, manager.ErrStopped))

	_, err := q.Submit(context.Background(), rawReq(2, 1))
	assert.ErrorIs(t, err, manager.ErrStopped)
	q.Close()
}

func TestGenerateThroughManager(t *testing.T) {
	q := NewQueue(QueueConfig{})
	m, err := manager.New(manager.ManagerConfig{
		Backend:  "echo",
		Fetch:    q.Fetch,
		Respond:  q.Respond,
		Notify:   q.Notify(),
		IdlePoll: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		q.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := q.Generate(ctx, types.GenerateRequest{InputIDs: []int32{4, 5, 6}, RequestOutputLen: ptr(2)})
	require.NoError(t, err)
	assert.Equal(t, "completed", out.State)
	assert.Equal(t, []int32{4, 5}, out.OutputIDs)
	assert.NotZero(t, out.ID)

	_, err = q.Generate(ctx, types.GenerateRequest{RequestOutputLen: ptr(2)})
	assert.True(t, manager.IsValidation(err), "got %v", err)
}
