package manager

import "github.com/rs/zerolog"

// LogPublisher writes every event as one structured log line at trace level,
// so lifecycle events can be followed with log_level=trace without a sink.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	ev := p.Log.Trace().Str("event", e.Name)
	if e.RequestID != 0 {
		ev = ev.Uint64("request_id", e.RequestID)
	}
	ev.Fields(e.Fields).Msg("orchestrator event")
}
