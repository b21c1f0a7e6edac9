package manager

import (
	"context"
	"sync"
)

func init() {
	RegisterExecutor("echo", newEchoExecutor)
}

// echoExecutor replays each prompt as output, one token per step. Every
// running request holds one of MaxNumRequests slots.
type echoExecutor struct {
	slots chan struct{}
}

func newEchoExecutor(cfg ExecutorConfig) (Executor, error) {
	return &echoExecutor{slots: make(chan struct{}, max(cfg.MaxNumRequests, 1))}, nil
}

type slotLease struct {
	slots chan struct{}
	once  sync.Once
}

func (l *slotLease) Release() { l.once.Do(func() { <-l.slots }) }

func (e *echoExecutor) Step(ctx context.Context, view ActiveView) error {
	for r := range view.All() {
		if r.Resource() == nil {
			select {
			case e.slots <- struct{}{}:
				r.AttachResource(&slotLease{slots: e.slots})
			default:
				continue
			}
		}
		prompt := r.Prompt()
		n := r.Generated()
		if n < len(prompt) {
			r.AppendToken(prompt[n])
			n++
		}
		if n >= len(prompt) || n >= r.MaxNewTokens {
			r.Complete()
		}
	}
	return ctx.Err()
}

func (e *echoExecutor) Close() error { return nil }
