package capability

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/internal/fault"
	"grip/internal/permission"
)

// gateFunc adapts a function to the PermissionGate interface.
type gateFunc func(permission.Request) bool

func (f gateFunc) Request(req permission.Request) bool { return f(req) }

func grantAll(permission.Request) bool { return true }

func echoCapability(name string, calls *atomic.Int32) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: "echo the text input back",
		Category:    CategoryGeneral,
		Schema: Schema{
			Required: []string{"text"},
			Properties: map[string]Property{
				"text": {Type: "string", Description: "text to echo"},
			},
		},
		Execute: func(ctx context.Context, input map[string]any, inv Context) (any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return input["text"], nil
		},
	}
}

func TestRegisterRejectsInvalidDescriptors(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)

	err := r.Register(&Descriptor{Execute: func(context.Context, map[string]any, Context) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrNameEmpty)

	err = r.Register(&Descriptor{Name: "no-body"})
	assert.ErrorIs(t, err, ErrExecuteNil)

	assert.Zero(t, r.Count())
}

func TestRegisterOverwriteWins(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)

	first := echoCapability("shadowed", nil)
	first.Execute = func(context.Context, map[string]any, Context) (any, error) { return "first", nil }
	require.NoError(t, r.Register(first))

	second := echoCapability("shadowed", nil)
	second.Execute = func(context.Context, map[string]any, Context) (any, error) { return "second", nil }
	require.NoError(t, r.Register(second))

	assert.Equal(t, 1, r.Count(), "re-registration must not duplicate the entry")

	out := r.Execute(context.Background(), "shadowed", map[string]any{"text": "x"}, Context{})
	require.True(t, out.Success)
	assert.Equal(t, "second", out.Data, "the later registration must win")
}

func TestExecuteUnknownName(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)
	require.NoError(t, r.Register(echoCapability("grep_search", nil)))
	require.NoError(t, r.Register(echoCapability("glob_find", nil)))
	require.NoError(t, r.Register(echoCapability("run_command", nil)))

	out := r.Execute(context.Background(), "grep_serch", nil, Context{})
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, fault.KindSystem, out.Error.Kind)
	joined := strings.Join(out.Error.Suggestions, "\n")
	assert.Contains(t, joined, "grep_search", "suggestions should rank the closest name")

	history := r.History()
	require.Len(t, history, 1, "a not-found invocation still lands in history")
	assert.Equal(t, "grep_serch", history[0].Capability)
	assert.False(t, history[0].Success)
	assert.NotEmpty(t, history[0].ID, "every record carries its own id")

	t.Run("empty registry still suggests", func(t *testing.T) {
		empty := NewRegistry(gateFunc(grantAll), 10)
		out := empty.Execute(context.Background(), "anything", nil, Context{})
		require.NotNil(t, out.Error)
		assert.NotEmpty(t, out.Error.Suggestions)
	})
}

func TestExecuteValidatesInput(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(gateFunc(grantAll), 10)
	require.NoError(t, r.Register(echoCapability("echo", &calls)))

	t.Run("missing required field", func(t *testing.T) {
		out := r.Execute(context.Background(), "echo", map[string]any{}, Context{})
		require.NotNil(t, out.Error)
		assert.Equal(t, fault.KindValidation, out.Error.Kind)
		assert.True(t, out.Error.Recoverable)
		assert.Contains(t, out.Error.Message, "text")
	})

	t.Run("wrong field type", func(t *testing.T) {
		out := r.Execute(context.Background(), "echo", map[string]any{"text": 42}, Context{})
		require.NotNil(t, out.Error)
		assert.Equal(t, fault.KindValidation, out.Error.Kind)
		assert.Contains(t, out.Error.Message, "string")
	})

	t.Run("unknown field", func(t *testing.T) {
		out := r.Execute(context.Background(), "echo", map[string]any{"text": "x", "bogus": true}, Context{})
		require.NotNil(t, out.Error)
		assert.Equal(t, fault.KindValidation, out.Error.Kind)
		assert.Contains(t, out.Error.Message, "bogus")
	})

	assert.Zero(t, calls.Load(), "the body must not run on invalid input")
}

func TestExecutePermissionFlow(t *testing.T) {
	withPermission := func(d *Descriptor) *Descriptor {
		d.Permission = func(input map[string]any, inv Context) permission.Request {
			text, _ := input["text"].(string)
			return permission.Request{
				Type:    permission.TypeExecute,
				Scope:   permission.ScopeProject,
				Command: text,
			}
		}
		return d
	}

	t.Run("denial becomes a permission outcome", func(t *testing.T) {
		var calls atomic.Int32
		r := NewRegistry(gateFunc(func(permission.Request) bool { return false }), 10)
		require.NoError(t, r.Register(withPermission(echoCapability("gated", &calls))))

		out := r.Execute(context.Background(), "gated", map[string]any{"text": "rm -rf /"}, Context{})
		assert.False(t, out.Success)
		require.NotNil(t, out.Error)
		assert.Equal(t, fault.KindPermission, out.Error.Kind)
		assert.False(t, out.Error.Recoverable)
		assert.Zero(t, calls.Load(), "the body must not run after a denial")
	})

	t.Run("grant lets the body run", func(t *testing.T) {
		var calls atomic.Int32
		r := NewRegistry(gateFunc(grantAll), 10)
		require.NoError(t, r.Register(withPermission(echoCapability("gated", &calls))))

		out := r.Execute(context.Background(), "gated", map[string]any{"text": "ls"}, Context{})
		assert.True(t, out.Success)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("request carries the invocation correlation id", func(t *testing.T) {
		var seen permission.Request
		r := NewRegistry(gateFunc(func(req permission.Request) bool {
			seen = req
			return true
		}), 10)
		require.NoError(t, r.Register(withPermission(echoCapability("gated", nil))))

		out := r.Execute(context.Background(), "gated", map[string]any{"text": "ls"}, Context{CorrelationID: "corr-42"})
		assert.Equal(t, "corr-42", seen.CorrelationID)
		assert.Equal(t, "corr-42", out.Metadata.CorrelationID)
		assert.Equal(t, "ls", seen.Command, "the command text must reach the engine")
	})

	t.Run("nil permission skips the gate", func(t *testing.T) {
		var consulted atomic.Int32
		r := NewRegistry(gateFunc(func(permission.Request) bool {
			consulted.Add(1)
			return true
		}), 10)
		require.NoError(t, r.Register(echoCapability("open", nil)))

		out := r.Execute(context.Background(), "open", map[string]any{"text": "x"}, Context{})
		assert.True(t, out.Success)
		assert.Zero(t, consulted.Load())
	})
}

func TestExecuteContainsPanic(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)
	require.NoError(t, r.Register(&Descriptor{
		Name: "explode",
		Execute: func(context.Context, map[string]any, Context) (any, error) {
			panic("boom")
		},
	}))

	out := r.Execute(context.Background(), "explode", nil, Context{})
	assert.False(t, out.Success)
	require.NotNil(t, out.Error)
	assert.Equal(t, fault.KindExecution, out.Error.Kind)
	assert.True(t, out.Error.Recoverable)
	assert.Contains(t, out.Error.Message, "panicked")
}

func TestExecutePassesThroughTypedErrors(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)
	require.NoError(t, r.Register(&Descriptor{
		Name: "picky",
		Execute: func(context.Context, map[string]any, Context) (any, error) {
			return nil, fault.Validationf("line range %d-%d is inverted", 9, 3)
		},
	}))

	out := r.Execute(context.Background(), "picky", nil, Context{})
	require.NotNil(t, out.Error)
	assert.Equal(t, fault.KindValidation, out.Error.Kind,
		"a typed error from the body must keep its kind instead of becoming execution")
}

func TestCorrelationIDAssigned(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)
	require.NoError(t, r.Register(echoCapability("echo", nil)))

	out := r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, Context{})
	assert.NotEmpty(t, out.Metadata.CorrelationID, "a missing correlation id must be generated")
	assert.Equal(t, "echo", out.Metadata.Capability)
	assert.False(t, out.Metadata.StartedAt.IsZero())

	out = r.Execute(context.Background(), "echo", map[string]any{"text": "x"}, Context{CorrelationID: "given"})
	assert.Equal(t, "given", out.Metadata.CorrelationID)
}

func TestHistoryBoundedAndStats(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 5)
	require.NoError(t, r.Register(echoCapability("echo", nil)))

	for i := 0; i < 4; i++ {
		out := r.Execute(context.Background(), "echo", map[string]any{"text": fmt.Sprintf("%d", i)}, Context{})
		require.True(t, out.Success)
	}
	for i := 0; i < 4; i++ {
		out := r.Execute(context.Background(), "echo", map[string]any{}, Context{})
		require.False(t, out.Success)
	}

	history := r.History()
	require.Len(t, history, 5, "history must trim to its window")
	assert.True(t, history[0].Success, "the window keeps the newest records")
	assert.Equal(t, map[string]any{"text": "3"}, history[0].Input, "records keep the invocation input")
	assert.Equal(t, "3", history[0].Data, "records keep the result payload")

	stats := r.Stats()
	assert.Equal(t, 5, stats.Window)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 4, stats.Failures)
	assert.InDelta(t, 0.2, stats.SuccessRate, 1e-9)
	assert.Equal(t, 5, stats.ByCapability["echo"])
	assert.Equal(t, 4, stats.ByErrorKind[fault.KindValidation])
}

func TestCatalogListing(t *testing.T) {
	r := NewRegistry(gateFunc(grantAll), 10)
	shellCap := echoCapability("run_command", nil)
	shellCap.Category = CategoryShell
	fileCap := echoCapability("read_file", nil)
	fileCap.Category = CategoryFile
	require.NoError(t, r.Register(shellCap))
	require.NoError(t, r.Register(fileCap))
	require.NoError(t, r.Register(echoCapability("echo", nil)))

	assert.Equal(t, []string{"echo", "read_file", "run_command"}, r.Names())
	assert.Equal(t, []Category{CategoryFile, CategoryGeneral, CategoryShell}, r.Categories())

	files := r.ByCategory(CategoryFile)
	require.Len(t, files, 1)
	assert.Equal(t, "read_file", files[0].Name)

	d, ok := r.Get("run_command")
	require.True(t, ok)
	assert.Equal(t, CategoryShell, d.Category)
}
