package manager

import (
	"context"
	"fmt"
)

const (
	defaultKVBlockSize = 64
	defaultSimVocab    = 32000
)

func init() {
	RegisterExecutor("sim", newSimExecutor)
}

// simExecutor is a deterministic synthetic decoder. Each step emits one token
// per active request, derived from the request seed, id and position, and keeps
// the request's KV cache lease large enough for prompt plus output.
type simExecutor struct {
	pool  *kvBlockPool
	vocab int
}

func newSimExecutor(cfg ExecutorConfig) (Executor, error) {
	vocab := cfg.VocabSize
	if vocab <= 0 {
		vocab = defaultSimVocab
	}
	blockSize := cfg.KVBlockSize
	if blockSize <= 0 {
		blockSize = defaultKVBlockSize
	}
	var blocks int
	if cfg.MaxTokensInPagedKVCache > 0 {
		blocks = cfg.MaxTokensInPagedKVCache / blockSize
	} else {
		blocks = max(cfg.MaxNumRequests, 1) * ((max(cfg.MaxSeqLen, 1) + blockSize - 1) / blockSize)
	}
	if blocks <= 0 {
		return nil, fmt.Errorf("sim: kv cache of %d tokens holds no %d-token block", cfg.MaxTokensInPagedKVCache, blockSize)
	}
	return &simExecutor{pool: newKVBlockPool(blocks, blockSize), vocab: vocab}, nil
}

func (s *simExecutor) Step(ctx context.Context, view ActiveView) error {
	defer func() { kvBlocksUsed.Set(float64(s.pool.used())) }()
	for r := range view.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		seqLen := len(r.Prompt()) + r.Generated() + 1
		lease, _ := r.Resource().(*kvLease)
		if lease == nil {
			l, err := s.pool.lease(seqLen)
			if err != nil {
				if s.pool.used() == 0 {
					// Nothing will ever be freed; the prompt alone does not fit.
					r.Fail(fmt.Sprintf("prompt of %d tokens does not fit the kv cache", len(r.Prompt())))
				}
				continue
			}
			r.AttachResource(l)
		} else if err := lease.ensure(seqLen); err != nil {
			r.Fail(err.Error())
			continue
		}

		tok := s.token(r)
		r.AppendToken(tok)
		n := r.Generated()
		if (tok == r.Sampling.EndID && n >= r.Sampling.MinLength) || n >= r.MaxNewTokens {
			r.Complete()
		}
	}
	return nil
}

func (s *simExecutor) token(r *Request) int32 {
	x := r.Sampling.RandomSeed ^ (r.ID * 0x9e3779b97f4a7c15) ^ uint64(r.Generated())
	return int32(splitmix64(x) % uint64(s.vocab))
}

func (s *simExecutor) Close() error { return nil }

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
