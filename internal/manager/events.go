package manager

// Event names published by the orchestrator.
const (
	EventRequestAdmitted  = "request_admitted"
	EventRequestRejected  = "request_rejected"
	EventRequestCompleted = "request_completed"
	EventRequestFailed    = "request_failed"
	EventRequestDropped   = "request_dropped"
	EventDeliveryFailed   = "delivery_failed"
	EventExecutorFailed   = "executor_failed"
	EventCallbackFailed   = "callback_failed"
	EventLoopStopping     = "loop_stopping"
	EventLoopStopped      = "loop_stopped"
)

// Event represents an orchestrator lifecycle event.
// Minimal and stable: name + request ID and optional fields via key/values.
type Event struct {
	Name      string
	RequestID uint64
	Fields    map[string]any
}

// EventPublisher receives events from the orchestrator loop. Implementations
// should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
