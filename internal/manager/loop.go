package manager

import (
	"errors"
	"fmt"
	"time"
)

var errDrainExpired = errors.New("drain timeout expired")

// run is the orchestrator loop. Each iteration runs fetch, step, return and
// poll strictly in order. The shutdown flag is only looked at between
// iterations, so a step in progress always finishes.
func (m *Manager) run() {
	defer close(m.done)
	m.log.Info().Int("max_num_requests", m.maxRequests).Int("max_seq_len", m.limits.MaxSeqLen).Msg("orchestrator loop starting")

	for {
		if !m.stopping && m.shutdown.Load() {
			m.beginStopping("teardown")
		}
		if m.stopping {
			if m.table.Len() == 0 {
				break
			}
			if !m.drainDeadline.IsZero() && time.Now().After(m.drainDeadline) {
				m.dropAll(errDrainExpired)
				break
			}
		}
		loopIterationsTotal.Inc()

		if !m.stopping {
			m.fetchPhase()
		}
		if m.table.Len() > 0 {
			if err := m.stepPhase(); err != nil {
				perr := &PhaseError{Phase: PhaseStep, Err: err}
				m.setErr(perr)
				m.publisher.Publish(Event{Name: EventExecutorFailed, Fields: map[string]any{"error": err.Error()}})
				m.log.Error().Err(err).Int("live", m.table.Len()).Msg("executor failed, stopping loop")
				m.beginStopping("executor failure")
				m.returnPhase()
				m.dropAll(err)
				break
			}
		}
		m.returnPhase()
		if !m.stopping {
			m.pollPhase()
		}
		m.publishSnapshot()

		if !m.stopping && m.table.Len() == 0 {
			m.idleWait()
		}
	}

	m.publishSnapshot()
	m.setLoopState(LoopStopped)
	m.publisher.Publish(Event{Name: EventLoopStopped})
	m.log.Info().Msg("orchestrator loop stopped")
}

// fetchPhase pulls new raw requests and admits the valid ones. Rejections are
// delivered upstream right away and never reach the step phase.
func (m *Manager) fetchPhase() {
	m.setLoopState(LoopFetch)
	capacity := m.maxRequests - m.table.Len()
	if capacity <= 0 || m.fetch == nil {
		return
	}
	raws, err := m.callFetch(capacity)
	if err != nil {
		m.callbackFailed(PhaseFetch, err)
		return
	}
	for i, raw := range raws {
		if i >= capacity {
			m.reject(raw.ID, &CapacityError{Limit: m.maxRequests, What: "live request"})
			continue
		}
		req, err := BuildRequest(raw, m.limits)
		if err != nil {
			m.reject(raw.ID, err)
			continue
		}
		if err := m.table.Admit(req); err != nil {
			m.reject(raw.ID, err)
			continue
		}
		requestsTotal.WithLabelValues(outcomeAdmitted).Inc()
		m.count(func(s *Snapshot) { s.Admitted++ })
		m.publisher.Publish(Event{Name: EventRequestAdmitted, RequestID: req.ID, Fields: map[string]any{
			"input_len": len(req.prompt), "max_new_tokens": req.MaxNewTokens,
		}})
		m.log.Debug().Uint64("request_id", req.ID).Int("input_len", len(req.prompt)).Int("max_new_tokens", req.MaxNewTokens).Msg("request admitted")
	}
	liveRequests.Set(float64(m.table.Len()))
}

func (m *Manager) callFetch(capacity int) (raws []RawRequest, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fetch panic: %v", p)
		}
	}()
	return m.fetch(capacity), nil
}

func (m *Manager) reject(id uint64, err error) {
	requestsTotal.WithLabelValues(outcomeRejected).Inc()
	m.count(func(s *Snapshot) { s.Rejected++ })
	m.publisher.Publish(Event{Name: EventRequestRejected, RequestID: id, Fields: map[string]any{"error": err.Error()}})
	m.log.Debug().Uint64("request_id", id).Err(err).Msg("request rejected")
	m.deliver(Response{ID: id, State: StateFailed, Err: err})
}

// stepPhase invokes the executor once. A panic inside the executor is turned
// into an ExecutorError like any returned error.
func (m *Manager) stepPhase() (err error) {
	m.setLoopState(LoopStep)
	start := time.Now()
	defer func() {
		loopStepDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			err = &ExecutorError{Backend: m.backend, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := m.exec.Step(m.ctx, m.table.ActiveView()); err != nil {
		return &ExecutorError{Backend: m.backend, Err: err}
	}
	return nil
}

// returnPhase harvests terminal records and hands them upstream.
func (m *Manager) returnPhase() {
	m.setLoopState(LoopReturn)
	for _, resp := range m.table.HarvestTerminal() {
		if resp.State == StateCompleted {
			requestsTotal.WithLabelValues(outcomeCompleted).Inc()
			m.count(func(s *Snapshot) { s.Completed++ })
			m.publisher.Publish(Event{Name: EventRequestCompleted, RequestID: resp.ID, Fields: map[string]any{"output_len": len(resp.OutputTokens)}})
		} else {
			requestsTotal.WithLabelValues(outcomeFailed).Inc()
			m.count(func(s *Snapshot) { s.Failed++ })
			m.publisher.Publish(Event{Name: EventRequestFailed, RequestID: resp.ID, Fields: map[string]any{"error": errString(resp.Err)}})
		}
		m.log.Debug().Uint64("request_id", resp.ID).Str("state", string(resp.State)).
			Ints32(FieldOutputIDs, resp.OutputTokens).Msg("request finished")
		m.deliver(resp)
	}
	liveRequests.Set(float64(m.table.Len()))
}

func (m *Manager) pollPhase() {
	m.setLoopState(LoopPoll)
	if m.stopSignal == nil {
		return
	}
	stop, err := m.callStopSignal()
	if err != nil {
		m.callbackFailed(PhasePoll, err)
		return
	}
	if stop {
		m.beginStopping("stop signal")
	}
}

func (m *Manager) callStopSignal() (stop bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stop signal panic: %v", p)
		}
	}()
	return m.stopSignal(), nil
}

// deliver hands resp to the response callback. Failures are reported but
// not retried; the record is already gone from the table.
func (m *Manager) deliver(resp Response) {
	if m.respond == nil {
		return
	}
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("respond panic: %v", p)
			}
		}()
		err = m.respond(resp)
	}()
	if err == nil {
		return
	}
	derr := &DeliveryError{ID: resp.ID, Err: err}
	deliveryFailuresTotal.Inc()
	m.count(func(s *Snapshot) { s.DeliveryFailures++ })
	m.publisher.Publish(Event{Name: EventDeliveryFailed, RequestID: resp.ID, Fields: map[string]any{"error": err.Error()}})
	m.log.Warn().Err(&PhaseError{Phase: PhaseReturn, Err: derr}).Uint64("request_id", resp.ID).Msg("response delivery failed")
}

// callbackFailed reports a failed fetch or stop-signal callback. The
// iteration goes on; the error is kept as the last callback error.
func (m *Manager) callbackFailed(phase Phase, err error) {
	perr := &PhaseError{Phase: phase, Err: err}
	callbackErrorsTotal.WithLabelValues(string(phase)).Inc()
	m.count(func(s *Snapshot) {
		s.CallbackErrors++
		s.LastCallbackErr = perr.Error()
	})
	m.publisher.Publish(Event{Name: EventCallbackFailed, Fields: map[string]any{"phase": string(phase), "error": err.Error()}})
	m.log.Error().Err(perr).Msg("upstream callback failed")
}

// dropAll removes every live record and reports each one as dropped.
func (m *Manager) dropAll(cause error) {
	for _, resp := range m.table.DrainAll(cause) {
		if IsDropped(resp.Err) {
			requestsTotal.WithLabelValues(outcomeDropped).Inc()
			m.count(func(s *Snapshot) { s.Dropped++ })
			m.publisher.Publish(Event{Name: EventRequestDropped, RequestID: resp.ID, Fields: map[string]any{"cause": cause.Error()}})
			m.log.Warn().Uint64("request_id", resp.ID).Err(cause).Msg("request dropped")
		}
		m.deliver(resp)
	}
	liveRequests.Set(0)
}

func (m *Manager) beginStopping(reason string) {
	if m.stopping {
		return
	}
	m.stopping = true
	if m.drainTimeout > 0 {
		m.drainDeadline = time.Now().Add(m.drainTimeout)
	}
	m.mu.Lock()
	m.snap.Loop = LoopStopping
	m.snap.Draining = true
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: EventLoopStopping, Fields: map[string]any{"reason": reason, "live": m.table.Len()}})
	m.log.Info().Str("reason", reason).Int("live", m.table.Len()).Msg("orchestrator stopping, draining live requests")
}

// idleWait parks an empty loop until the poll interval passes, upstream
// signals new work, or shutdown is requested.
func (m *Manager) idleWait() {
	m.setLoopState(LoopIdle)
	timer := time.NewTimer(m.idlePoll)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.notify:
	case <-m.wake:
	}
}

func (m *Manager) publishSnapshot() {
	queued, active := m.table.Counts()
	m.mu.Lock()
	m.snap.Queued = queued
	m.snap.Active = active
	m.mu.Unlock()
}

func (m *Manager) count(f func(*Snapshot)) {
	m.mu.Lock()
	f(&m.snap)
	m.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
