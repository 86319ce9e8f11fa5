package capability

import "errors"

// Registration errors. Pipeline failures are never plain errors; they ride
// inside Outcome.Error as *fault.AgentError values.
var (
	// ErrNameEmpty is returned when a descriptor has no name.
	ErrNameEmpty = errors.New("capability name cannot be empty")

	// ErrExecuteNil is returned when a descriptor has no execute function.
	ErrExecuteNil = errors.New("capability execute function cannot be nil")
)
