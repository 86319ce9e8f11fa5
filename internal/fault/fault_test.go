package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindDefaults(t *testing.T) {
	cases := []struct {
		name        string
		err         *AgentError
		kind        Kind
		recoverable bool
	}{
		{"validation", Validation("field x must be a string"), KindValidation, true},
		{"permission", Permission("denied by rule"), KindPermission, false},
		{"execution", Execution(errors.New("boom")), KindExecution, true},
		{"timeout", Timeout("50ms"), KindTimeout, true},
		{"system", System("no such capability"), KindSystem, false},
		{"queue_discarded", QueueDiscarded("s1"), KindQueueDiscarded, true},
	}

	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("%s: kind = %q, want %q", tc.name, tc.err.Kind, tc.kind)
		}
		if tc.err.Recoverable != tc.recoverable {
			t.Errorf("%s: recoverable = %v, want %v", tc.name, tc.err.Recoverable, tc.recoverable)
		}
		if tc.err.Message == "" {
			t.Errorf("%s: empty message", tc.name)
		}
	}
}

func TestErrorFormatIncludesKind(t *testing.T) {
	err := Validation("input.command is required")
	if got := err.Error(); !strings.HasPrefix(got, "validation: ") {
		t.Errorf("Error() = %q, want validation prefix", got)
	}
}

func TestExecutionUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := fmt.Errorf("writing output: %w", cause)
	ae := Execution(wrapped)

	if !errors.Is(ae, cause) {
		t.Error("errors.Is should reach the original cause through the AgentError")
	}
}

func TestConvert(t *testing.T) {
	orig := Permission("nope")
	if got := Convert(orig); got != orig {
		t.Error("Convert should pass an existing AgentError through unchanged")
	}

	wrapped := fmt.Errorf("outer: %w", orig)
	if got := Convert(wrapped); got != orig {
		t.Error("Convert should unwrap to an embedded AgentError")
	}

	plain := errors.New("exploded")
	got := Convert(plain)
	if got.Kind != KindExecution {
		t.Errorf("plain error converted to kind %q, want %q", got.Kind, KindExecution)
	}
	if got.Message != "exploded" {
		t.Errorf("message = %q, want original text", got.Message)
	}

	if Convert(nil) != nil {
		t.Error("Convert(nil) should be nil")
	}
}

func TestNotFoundListsKnownNames(t *testing.T) {
	err := NotFound("run_cmd", []string{"run_command", "read_file"})
	if err.Kind != KindSystem {
		t.Fatalf("kind = %q, want %q", err.Kind, KindSystem)
	}
	joined := strings.Join(err.Suggestions, "\n")
	if !strings.Contains(joined, "run_command") {
		t.Errorf("suggestions should name at least one known capability, got %q", joined)
	}

	empty := NotFound("anything", nil)
	if len(empty.Suggestions) == 0 {
		t.Error("not-found against an empty registry should still carry a suggestion")
	}
}

func TestWithSuggestionsAppends(t *testing.T) {
	err := System("spawn failed").WithSuggestions("check the shell binary path")
	if len(err.Suggestions) == 0 || err.Suggestions[len(err.Suggestions)-1] != "check the shell binary path" {
		t.Errorf("suggestions = %v, want appended hint last", err.Suggestions)
	}
}

func TestCorrelationIDs(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == "" || b == "" {
		t.Fatal("correlation ids must be non-empty")
	}
	if a == b {
		t.Error("correlation ids must be unique")
	}

	if got := EnsureCorrelationID("given"); got != "given" {
		t.Errorf("EnsureCorrelationID should keep a supplied id, got %q", got)
	}
	if got := EnsureCorrelationID(""); got == "" {
		t.Error("EnsureCorrelationID should mint an id when none supplied")
	}
}
