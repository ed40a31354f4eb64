// Package message defines the values that cross the host boundary.
//
// The host hands every item invocation over as a Request (item key plus its
// positional string parameters) and expects a Result back: either the
// verbatim downstream reply or a failure message for the agent log.
package message

import "github.com/google/uuid"

// Request is one item invocation, e.g. vpoller[vm.get, vc01, vm01, summary.overallStatus].
type Request struct {
	ID     string   // Correlation ID for log lines, one per invocation
	Key    string   // Item key: "vpoller" or "vpoller.echo"
	Params []string // Positional parameters, in the order the host supplied them
}

// NewRequest stamps a fresh correlation ID onto an invocation.
func NewRequest(key string, params ...string) *Request {
	return &Request{
		ID:     uuid.NewString(),
		Key:    key,
		Params: params,
	}
}

// Result is what the host reports for an item.
//
//   - On success: OK is true and Value holds the reply exactly as received.
//   - On failure: OK is false and Message tells the operator what went wrong.
type Result struct {
	OK      bool
	Value   string
	Message string
}

func Success(value string) *Result {
	return &Result{OK: true, Value: value}
}

func Failure(msg string) *Result {
	return &Result{Message: msg}
}
