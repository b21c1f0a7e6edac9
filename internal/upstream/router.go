package upstream

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"batchd/internal/manager"
)

// Source is one upstream feeding the orchestrator.
type Source interface {
	Fetch(capacity int) []manager.RawRequest
	Respond(manager.Response) error
}

// Router merges several sources into one pair of fetch/respond callbacks.
// It remembers which source each live id came from. An id that is already
// live from any source is rejected back to the source that sent it.
type Router struct {
	sources []Source
	log     zerolog.Logger

	mu     sync.Mutex
	origin map[uint64]Source
	next   int
}

// NewRouter routes between sources; fetches rotate the starting source so
// none is starved.
func NewRouter(log *zerolog.Logger, sources ...Source) *Router {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "router").Logger()
	}
	return &Router{sources: sources, log: l, origin: make(map[uint64]Source)}
}

// Fetch pulls from each source in turn until capacity is used up.
func (r *Router) Fetch(capacity int) []manager.RawRequest {
	if len(r.sources) == 0 {
		return nil
	}
	type rejected struct {
		src Source
		id  uint64
	}
	var out []manager.RawRequest
	var dups []rejected

	r.mu.Lock()
	start := r.next
	r.next = (r.next + 1) % len(r.sources)
	for i := 0; i < len(r.sources) && capacity > 0; i++ {
		src := r.sources[(start+i)%len(r.sources)]
		batch := src.Fetch(capacity)
		for _, raw := range batch {
			if _, live := r.origin[raw.ID]; live {
				dups = append(dups, rejected{src: src, id: raw.ID})
				continue
			}
			r.origin[raw.ID] = src
			out = append(out, raw)
		}
		capacity -= len(batch)
	}
	r.mu.Unlock()

	for _, d := range dups {
		err := &manager.DuplicateIDError{ID: d.id}
		if derr := d.src.Respond(manager.Response{ID: d.id, State: manager.StateFailed, Err: err}); derr != nil {
			r.log.Warn().Err(derr).Uint64("request_id", d.id).Msg("deliver duplicate rejection")
		}
	}
	return out
}

// Respond forwards resp to the source that supplied the request.
func (r *Router) Respond(resp manager.Response) error {
	r.mu.Lock()
	src, ok := r.origin[resp.ID]
	delete(r.origin, resp.ID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no source for request %d", resp.ID)
	}
	return src.Respond(resp)
}

// Live returns the number of ids currently routed.
func (r *Router) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.origin)
}
