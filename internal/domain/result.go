package domain

import "time"

// ExecutionResult is what an executor returns. Executors never raise past
// their boundary: driver and subprocess failures come back as Success=false
// with a printable error, not as a Go error.
type ExecutionResult struct {
	Success    bool
	Output     string
	Error      string
	ExecutedAt time.Time
}

// Succeeded builds a success result stamped now.
func Succeeded(output string) *ExecutionResult {
	return &ExecutionResult{Success: true, Output: output, ExecutedAt: time.Now().UTC()}
}

// Failed builds a failure result stamped now.
func Failed(errText string) *ExecutionResult {
	return &ExecutionResult{Success: false, Error: errText, ExecutedAt: time.Now().UTC()}
}

// NormalizeError turns an arbitrary recovered or thrown value into a
// printable message. Anything that is not a recognizable error becomes
// "Unknown error" instead of leaking an unprintable value.
func NormalizeError(v any) string {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "Unknown error"
}
