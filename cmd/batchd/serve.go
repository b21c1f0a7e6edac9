package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"batchd/internal/config"
	"batchd/internal/httpapi"
	"batchd/internal/manager"
	"batchd/internal/redisq"
	"batchd/internal/registry"
	"batchd/internal/upstream"
	"batchd/pkg/types"
)

// service glues the submission queue and the manager into httpapi.Service.
type service struct {
	*upstream.Queue
	mgr *manager.Manager
}

func (s service) Status() types.StatusResponse { return s.mgr.Status() }
func (s service) Ready() bool                  { return s.mgr.Ready() }

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	enginePath := ""
	if cfg.EngineDir != "" {
		eng, err := registry.Resolve(cfg.EngineDir, cfg.Engine)
		if err != nil {
			return fmt.Errorf("resolve engine: %w", err)
		}
		enginePath = eng.Path
		log.Info().Str("engine", eng.ID).Str("path", eng.Path).Strs("files", eng.Files).Msg("engine selected")
	}

	queue := upstream.NewQueue(upstream.QueueConfig{
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       cfg.MaxWait.Std(),
		Logger:        &log,
	})
	sources := []upstream.Source{queue}
	if cfg.Redis.Addr != "" {
		rdb, err := redisq.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		sources = append(sources, redisq.New(rdb, redisq.Config{
			QueueKey:     cfg.Redis.QueueKey,
			ResultPrefix: cfg.Redis.ResultPrefix,
			ResultTTL:    cfg.Redis.ResultTTL.Std(),
			Logger:       &log,
		}))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis source enabled")
	}
	router := upstream.NewRouter(&log, sources...)

	mgr, err := manager.New(manager.ManagerConfig{
		Backend:                 cfg.Backend,
		EnginePath:              enginePath,
		MaxNumRequests:          cfg.MaxNumRequests,
		MaxBeamWidth:            cfg.MaxBeamWidth,
		MaxSeqLen:               cfg.MaxSeqLen,
		MaxTokensInPagedKVCache: cfg.MaxTokensInPagedKVCache,
		KVBlockSize:             cfg.KVBlockSize,
		VocabSize:               cfg.VocabSize,
		Fetch:                   router.Fetch,
		Respond:                 router.Respond,
		Notify:                  queue.Notify(),
		IdlePoll:                cfg.IdlePoll.Std(),
		DrainTimeout:            cfg.DrainTimeout.Std(),
		Logger:                  &log,
		Publisher:               manager.LogPublisher{Log: log.With().Str("component", "events").Logger()},
	})
	if err != nil {
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeout(cfg.GenerateTimeout.Std())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(service{Queue: queue, mgr: mgr}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", mgr.Backend()).Int("max_seq_len", mgr.Limits().MaxSeqLen).Msg("batchd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	case <-mgr.Done():
		log.Error().Err(mgr.Err()).Msg("orchestrator stopped")
	}
	return shutdown(srv, mgr, queue, cancelBase, cfg.DrainTimeout.Std(), log)
}

// shutdown stops accepting connections, drains the orchestrator, then fails
// whatever never reached it. In-flight /generate handlers finish as their
// requests complete; past the grace period their contexts are cancelled.
func shutdown(srv *http.Server, mgr *manager.Manager, queue *upstream.Queue, cancelBase context.CancelFunc, drain time.Duration, log zerolog.Logger) error {
	grace := drain + 5*time.Second
	if drain == 0 {
		grace = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	stopCancel := context.AfterFunc(ctx, cancelBase)
	defer stopCancel()

	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.Shutdown(ctx) }()

	mgrErr := mgr.Close()
	queue.Close()
	if err := <-httpDone; err != nil {
		log.Warn().Err(err).Msg("graceful http shutdown")
	}
	st := mgr.Status()
	log.Info().Uint64("completed", st.CompletedTotal).Uint64("failed", st.FailedTotal).
		Uint64("dropped", st.DroppedTotal).Msg("batchd stopped")
	return mgrErr
}
