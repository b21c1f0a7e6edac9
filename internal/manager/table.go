package manager

import (
	"fmt"
	"iter"
	"maps"
	"slices"
)

// RequestTable holds every admitted, not yet harvested request keyed by id.
// It is owned by the orchestrator loop and is not safe for concurrent use.
type RequestTable struct {
	reqs map[uint64]*Request
}

// NewRequestTable returns an empty table.
func NewRequestTable() *RequestTable {
	return &RequestTable{reqs: make(map[uint64]*Request)}
}

// Len returns the number of live records.
func (t *RequestTable) Len() int { return len(t.reqs) }

// Contains reports whether id is live.
func (t *RequestTable) Contains(id uint64) bool {
	_, ok := t.reqs[id]
	return ok
}

// Admit inserts r in state queued. The incoming request is rejected when its
// id is already live; the existing record is untouched.
func (t *RequestTable) Admit(r *Request) error {
	if r == nil {
		return fmt.Errorf("admit: nil request")
	}
	if _, ok := t.reqs[r.ID]; ok {
		return &DuplicateIDError{ID: r.ID}
	}
	r.state = StateQueued
	t.reqs[r.ID] = r
	return nil
}

// ActiveView returns the view handed to the executor for one step.
func (t *RequestTable) ActiveView() ActiveView { return ActiveView{t: t} }

// HarvestTerminal removes every completed or failed record, releases its
// resource handle and returns detached responses in id order.
func (t *RequestTable) HarvestTerminal() []Response {
	var out []Response
	for _, id := range t.sortedIDs() {
		r := t.reqs[id]
		if !r.state.Terminal() {
			continue
		}
		delete(t.reqs, id)
		r.releaseResource()
		out = append(out, r.response())
	}
	return out
}

// DrainAll removes every remaining record regardless of state, releasing
// handles, and reports each as dropped with cause.
func (t *RequestTable) DrainAll(cause error) []Response {
	out := make([]Response, 0, len(t.reqs))
	for _, id := range t.sortedIDs() {
		r := t.reqs[id]
		delete(t.reqs, id)
		r.releaseResource()
		resp := r.response()
		if !r.state.Terminal() {
			resp.State = StateFailed
			resp.Err = fmt.Errorf("%w: %v", ErrRequestDropped, cause)
		}
		out = append(out, resp)
	}
	return out
}

// Counts returns the number of queued and active records.
func (t *RequestTable) Counts() (queued, active int) {
	for _, r := range t.reqs {
		switch r.state {
		case StateQueued:
			queued++
		case StateActive:
			active++
		}
	}
	return queued, active
}

func (t *RequestTable) sortedIDs() []uint64 {
	return slices.Sorted(maps.Keys(t.reqs))
}

// ActiveView is the executor's window onto the table: every queued or active
// record, in ascending id order. Iteration is lazy and may be restarted; each
// pass reflects the current table. Queued records become active the first time
// they are yielded.
type ActiveView struct {
	t *RequestTable
}

// All iterates the eligible records.
func (v ActiveView) All() iter.Seq[*Request] {
	return func(yield func(*Request) bool) {
		if v.t == nil {
			return
		}
		for _, id := range v.t.sortedIDs() {
			r, ok := v.t.reqs[id]
			if !ok || r.state.Terminal() {
				continue
			}
			if r.state == StateQueued {
				r.state = StateActive
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of eligible records without activating them.
func (v ActiveView) Len() int {
	if v.t == nil {
		return 0
	}
	n := 0
	for _, r := range v.t.reqs {
		if !r.state.Terminal() {
			n++
		}
	}
	return n
}
