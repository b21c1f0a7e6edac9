package manager

import (
	"time"

	"batchd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	s := m.Snapshot()
	now := time.Now()
	return types.StatusResponse{
		Backend:               m.backend,
		Engine:                m.enginePath,
		State:                 string(s.Loop),
		Draining:              s.Draining,
		Queued:                s.Queued,
		Active:                s.Active,
		MaxNumRequests:        m.maxRequests,
		MaxSeqLen:             m.limits.MaxSeqLen,
		AdmittedTotal:         s.Admitted,
		RejectedTotal:         s.Rejected,
		CompletedTotal:        s.Completed,
		FailedTotal:           s.Failed,
		DroppedTotal:          s.Dropped,
		DeliveryFailuresTotal: s.DeliveryFailures,
		CallbackErrorsTotal:   s.CallbackErrors,
		LastCallbackError:     s.LastCallbackErr,
		LastError:             s.Err,
		UptimeSeconds:         int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:        now.Unix(),
	}
}
