package redisq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchd/internal/manager"
	"batchd/pkg/types"
)

// fakeClient keeps lists and strings in memory with Redis list semantics
// (LPUSH prepends, RPOP takes from the tail).
type fakeClient struct {
	mu     sync.Mutex
	lists  map[string][]string
	kv     map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{lists: map[string][]string{}, kv: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *fakeClient) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range values {
		c.lists[key] = append([]string{toString(v)}, c.lists[key]...)
	}
	return redis.NewIntResult(int64(len(c.lists[key])), nil)
}

func (c *fakeClient) RPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lists[key]
	if len(l) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	var out []string
	for i := 0; i < count && len(l) > 0; i++ {
		out = append(out, l[len(l)-1])
		l = l[:len(l)-1]
	}
	c.lists[key] = l
	return redis.NewStringSliceResult(out, nil)
}

func (c *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return redis.NewStatusResult("", c.setErr)
	}
	c.kv[key] = toString(value)
	c.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (c *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	panic("unexpected value type")
}

func ptr[T any](v T) *T { return &v }

func TestFetchPreservesPushOrder(t *testing.T) {
	c := newFakeClient()
	s := New(c, Config{})
	ctx := context.Background()
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, s.Push(ctx, types.GenerateRequest{ID: id, InputIDs: []int32{1}, RequestOutputLen: ptr(2)}))
	}

	batch := s.Fetch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(1), batch[0].ID)
	assert.Equal(t, uint64(2), batch[1].ID)
	assert.Equal(t, 2, *batch[0].RequestOutputLen)

	rest := s.Fetch(10)
	require.Len(t, rest, 1)
	assert.Equal(t, uint64(3), rest[0].ID)
	assert.Nil(t, s.Fetch(10))
	assert.Nil(t, s.Fetch(0))
}

func TestFetchDiscardsMalformed(t *testing.T) {
	c := newFakeClient()
	s := New(c, Config{QueueKey: "q"})
	c.lists["q"] = []string{`{"id":5,"input_ids":[1],"request_output_len":1}`, `{"input_ids":[1]}`, `not json`}

	batch := s.Fetch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(5), batch[0].ID)
}

func TestFetchAnswersUndecodableMessageWithID(t *testing.T) {
	c := newFakeClient()
	s := New(c, Config{QueueKey: "q"})
	c.lists["q"] = []string{`{"id":7,"input_ids":[1],"request_output_len":"ten"}`}

	assert.Empty(t, s.Fetch(10))

	got, ok, err := s.Result(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok, "producer must get a result for a rejected message")
	assert.Equal(t, "failed", got.State)
	assert.Contains(t, got.Error, "invalid request")
	assert.NotNil(t, got.OutputIDs)
}

func TestPushRequiresID(t *testing.T) {
	s := New(newFakeClient(), Config{})
	assert.Error(t, s.Push(context.Background(), types.GenerateRequest{InputIDs: []int32{1}}))
}

func TestRespondStoresResultWithTTL(t *testing.T) {
	c := newFakeClient()
	s := New(c, Config{ResultTTL: time.Minute})
	require.NoError(t, s.Respond(manager.Response{ID: 42, State: manager.StateCompleted, OutputTokens: []int32{7, 8}}))
	assert.Equal(t, time.Minute, c.ttls["result:42"])

	got, ok, err := s.Result(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", got.State)
	assert.Equal(t, []int32{7, 8}, got.OutputIDs)

	_, ok, err = s.Result(context.Background(), 43)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRespondFailure(t *testing.T) {
	c := newFakeClient()
	c.setErr = errors.New("READONLY")
	s := New(c, Config{})
	err := s.Respond(manager.Response{ID: 1, State: manager.StateFailed, Err: manager.ErrRequestDropped})
	assert.ErrorContains(t, err, "READONLY")
}

func TestSourceDrivesManager(t *testing.T) {
	c := newFakeClient()
	s := New(c, Config{})
	ctx := context.Background()
	require.NoError(t, s.Push(ctx, types.GenerateRequest{ID: 9, InputIDs: []int32{3, 4}, RequestOutputLen: ptr(8)}))

	m, err := manager.New(manager.ManagerConfig{Backend: "echo", Fetch: s.Fetch, Respond: s.Respond, IdlePoll: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.Eventually(t, func() bool {
		_, ok, _ := s.Result(ctx, 9)
		return ok
	}, 2*time.Second, time.Millisecond)
	got, _, err := s.Result(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4}, got.OutputIDs)
}
