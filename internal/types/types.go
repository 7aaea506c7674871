package types

// Request types accepted by the execution worker.
const (
	RequestInit      = "init"
	RequestRun       = "run"
	RequestInterrupt = "interrupt"
)

// Response types emitted by the execution worker. Exactly one response is
// emitted per accepted request.
const (
	ResponseReady       = "ready"
	ResponseSuccess     = "success"
	ResponseError       = "error"
	ResponseInterrupted = "interrupted"
)

// Request is a tagged protocol message sent to the worker.
type Request struct {
	Type string `json:"type"`
	// Code is the guest program source; required when Type is "run".
	Code string `json:"code,omitempty"`
	// Timeout is the run deadline in milliseconds. When absent the
	// configured default applies. Must be a positive integer.
	Timeout *int `json:"timeout,omitempty"`
}

// Response is a tagged protocol message sent back to the caller.
type Response struct {
	Type   string `json:"type"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	// ExecutionTime is wall-clock milliseconds measured on the worker's
	// own clock, never derived from the guest environment. Always
	// serialized, even for an instantaneous run.
	ExecutionTime float64 `json:"executionTime"`
}

// Outcome classifies a finished run.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeError       Outcome = "error"
	OutcomeInterrupted Outcome = "interrupted"
)

// ExecutionResult is produced exactly once per accepted run request and is
// immutable once emitted.
type ExecutionResult struct {
	Outcome       Outcome `json:"outcome"`
	Output        string  `json:"output,omitempty"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"executionTime"`
}

// Response converts the result into its protocol representation.
func (r *ExecutionResult) Response() Response {
	return Response{
		Type:          string(r.Outcome),
		Output:        r.Output,
		Error:         r.Error,
		ExecutionTime: r.ExecutionTime,
	}
}

// ExecuteRequest is the one-shot HTTP execution request body.
type ExecuteRequest struct {
	Code    string `json:"code"`
	Timeout *int   `json:"timeout,omitempty"`
}

// RuntimeInfo describes an available interpreter engine for API responses.
type RuntimeInfo struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Engine   string `json:"engine"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
