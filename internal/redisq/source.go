// Package redisq feeds the orchestrator from a Redis list and writes final
// responses back as expiring result keys.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"batchd/internal/manager"
	"batchd/internal/upstream"
	"batchd/pkg/types"
)

const (
	DefaultQueueKey     = "batchd:requests"
	DefaultResultPrefix = "result:"
	DefaultResultTTL    = 10 * time.Minute
	defaultOpTimeout    = 100 * time.Millisecond
)

var messagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "batchd",
		Subsystem: "redis",
		Name:      "messages_total",
		Help:      "Redis queue messages by outcome (fetched, malformed, responded, respond_error)",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(messagesTotal)
}

// Client is the subset of *redis.Client the source uses.
type Client interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Config names the keys and timings of a Source.
type Config struct {
	QueueKey     string
	ResultPrefix string
	ResultTTL    time.Duration
	// OpTimeout bounds each Redis call made from the orchestrator loop.
	OpTimeout time.Duration
	Logger    *zerolog.Logger
}

// Source pops JSON requests pushed with LPUSH (FIFO) and stores each final
// response under ResultPrefix+id for ResultTTL.
type Source struct {
	client Client
	cfg    Config
	log    zerolog.Logger
}

var _ upstream.Source = (*Source)(nil)

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

// New wraps client. Zero config fields take package defaults.
func New(client Client, cfg Config) *Source {
	if cfg.QueueKey == "" {
		cfg.QueueKey = DefaultQueueKey
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = DefaultResultPrefix
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "redisq").Str("queue", cfg.QueueKey).Logger()
	}
	return &Source{client: client, cfg: cfg, log: log}
}

// Fetch pops up to capacity messages without blocking longer than OpTimeout.
// Malformed messages are discarded; those carrying an id get a failed result.
func (s *Source) Fetch(capacity int) []manager.RawRequest {
	if capacity <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	msgs, err := s.client.RPopCount(ctx, s.cfg.QueueKey, capacity).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("pop requests")
		}
		return nil
	}
	out := make([]manager.RawRequest, 0, len(msgs))
	for _, msg := range msgs {
		var req types.GenerateRequest
		if err := json.Unmarshal([]byte(msg), &req); err != nil {
			s.rejectMalformed(msg, err)
			continue
		}
		if req.ID == 0 {
			messagesTotal.WithLabelValues("malformed").Inc()
			s.log.Warn().Msg("discard request without id")
			continue
		}
		messagesTotal.WithLabelValues("fetched").Inc()
		out = append(out, upstream.FromWire(req))
	}
	return out
}

// rejectMalformed answers a message that names its id but does not decode,
// so the producer sees a failed result instead of waiting for one.
func (s *Source) rejectMalformed(msg string, decodeErr error) {
	messagesTotal.WithLabelValues("malformed").Inc()
	var head struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(msg), &head); err != nil || head.ID == 0 {
		s.log.Warn().Err(decodeErr).Msg("discard malformed request")
		return
	}
	s.log.Warn().Err(decodeErr).Uint64("request_id", head.ID).Msg("reject malformed request")
	verr := &manager.ValidationError{Reason: "malformed message: " + decodeErr.Error()}
	if err := s.Respond(manager.Response{ID: head.ID, State: manager.StateFailed, Err: verr}); err != nil {
		s.log.Warn().Err(err).Uint64("request_id", head.ID).Msg("store rejection")
	}
}

// Respond stores the final response.
func (s *Source) Respond(resp manager.Response) error {
	data, err := json.Marshal(upstream.ToWire(resp))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.resultKey(resp.ID), data, s.cfg.ResultTTL).Err(); err != nil {
		messagesTotal.WithLabelValues("respond_error").Inc()
		return fmt.Errorf("store result %d: %w", resp.ID, err)
	}
	messagesTotal.WithLabelValues("responded").Inc()
	return nil
}

// Push enqueues req for a later Fetch.
func (s *Source) Push(ctx context.Context, req types.GenerateRequest) error {
	if req.ID == 0 {
		return errors.New("redis requests need a non-zero id")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, s.cfg.QueueKey, data).Err()
}

// Result reads a stored response. ok is false while none is stored.
func (s *Source) Result(ctx context.Context, id uint64) (resp types.GenerateResponse, ok bool, err error) {
	data, err := s.client.Get(ctx, s.resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return resp, false, nil
	}
	if err != nil {
		return resp, false, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, false, err
	}
	return resp, true, nil
}

func (s *Source) resultKey(id uint64) string {
	return s.cfg.ResultPrefix + strconv.FormatUint(id, 10)
}
