package types

// GenerateRequest is a raw generation request as carried over HTTP and Redis.
// Field names follow the logical request schema; omitted optional fields take
// the engine defaults.
type GenerateRequest struct {
	// Request id. Zero lets the server assign one.
	// example: 42
	ID uint64 `json:"id,omitempty" example:"42"`
	// Required prompt token ids.
	// example: [1,15043,3186]
	InputIDs []int32 `json:"input_ids" example:"1,15043,3186"`
	// Required number of tokens to generate. Clamped to the sequence budget.
	// example: 16
	RequestOutputLen *int `json:"request_output_len" example:"16"`
	// Beam width; defaults to 1.
	// example: 1
	BeamWidth *int `json:"beam_width,omitempty" example:"1"`
	// End-of-sequence token id, or -1 for none.
	// example: 2
	EndID *int32 `json:"end_id,omitempty" example:"2"`
	// Padding token id, or -1 for none.
	// example: 0
	PadID *int32 `json:"pad_id,omitempty" example:"0"`
	// Sampling temperature.
	// example: 0.7
	Temperature *float32 `json:"temperature,omitempty" example:"0.7"`
	// Top-K sampling; 0 disables.
	// example: 40
	TopK *int `json:"runtime_top_k,omitempty" example:"40"`
	// Nucleus sampling probability in [0,1].
	// example: 0.9
	TopP *float32 `json:"runtime_top_p,omitempty" example:"0.9"`

	LengthPenalty     *float32 `json:"len_penalty,omitempty"`
	RepetitionPenalty *float32 `json:"repetition_penalty,omitempty"`
	MinLength         *int     `json:"min_length,omitempty"`
	PresencePenalty   *float32 `json:"presence_penalty,omitempty"`
	// Seed for reproducible sampling.
	// example: 7
	RandomSeed *uint64 `json:"random_seed,omitempty" example:"7"`
}

// GenerateResponse is the final result of a request.
type GenerateResponse struct {
	// example: 42
	ID uint64 `json:"id" example:"42"`
	// Generated token ids.
	// example: [310,4799,2]
	OutputIDs []int32 `json:"output_ids" example:"310,4799,2"`
	// Final state: completed or failed.
	// example: completed
	State string `json:"state" example:"completed"`
	// Failure reason when State is failed.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Executor backend name.
	// example: sim
	Backend string `json:"backend" example:"sim"`
	// Engine location, if any.
	Engine string `json:"engine,omitempty"`
	// Orchestrator loop state (idle, fetch, step, return, poll, stopping, stopped).
	// example: step
	State string `json:"state" example:"step"`
	// True once a stop was observed and live requests are draining.
	Draining bool `json:"draining"`
	// Requests admitted but not yet stepped.
	// example: 2
	Queued int `json:"queued" example:"2"`
	// Requests being advanced by the executor.
	// example: 6
	Active int `json:"active" example:"6"`
	// Maximum live requests.
	// example: 64
	MaxNumRequests int `json:"max_num_requests" example:"64"`
	// Maximum total sequence length.
	// example: 2048
	MaxSeqLen int `json:"max_seq_len" example:"2048"`

	AdmittedTotal         uint64 `json:"admitted_total"`
	RejectedTotal         uint64 `json:"rejected_total"`
	CompletedTotal        uint64 `json:"completed_total"`
	FailedTotal           uint64 `json:"failed_total"`
	DroppedTotal          uint64 `json:"dropped_total"`
	DeliveryFailuresTotal uint64 `json:"delivery_failures_total"`
	CallbackErrorsTotal   uint64 `json:"callback_errors_total"`

	// Last failed fetch or stop-signal callback, if any.
	LastCallbackError string `json:"last_callback_error,omitempty"`

	// Fatal error that stopped the loop, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the orchestrator in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
