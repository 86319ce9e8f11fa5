package fault

import "github.com/google/uuid"

// NewCorrelationID returns a fresh unique id for one requested action. The id
// is threaded through permission requests, command results, execution records,
// and log lines so a single action can be traced end to end.
func NewCorrelationID() string {
	return uuid.NewString()
}

// EnsureCorrelationID returns id unchanged when the caller supplied one, or a
// fresh id otherwise.
func EnsureCorrelationID(id string) string {
	if id != "" {
		return id
	}
	return NewCorrelationID()
}
