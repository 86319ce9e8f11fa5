package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grip/internal/capability"
	"grip/internal/fault"
	"grip/internal/permission"
)

type openGate struct{}

func (openGate) Request(permission.Request) bool { return true }

func newTestRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	registry := capability.NewRegistry(openGate{}, 50)
	require.NoError(t, RegisterAll(registry))
	return registry
}

// fixtureTree builds a small project to search over.
func fixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"main.go":             "package main\n\nfunc main() {\n\tLaunch()\n}\n",
		"engine/core.go":      "package engine\n\n// Launch starts the engine.\nfunc Launch() {}\n",
		"engine/core_test.go": "package engine\n\nfunc TestLaunch(t *T) {}\n",
		"docs/readme.md":      "launch instructions\n",
		"vendor/dep.go":       "package dep // Launch impostor\n",
		".git/config":         "[core]\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestGrepSearch(t *testing.T) {
	registry := newTestRegistry(t)
	dir := fixtureTree(t)
	inv := capability.Context{Workdir: dir}

	t.Run("finds matches with file filter", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": `func Launch`, "file_pattern": "*.go"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)

		matches := out.Data.([]Match)
		require.Len(t, matches, 1, "only engine/core.go defines Launch")
		assert.Equal(t, filepath.Join(dir, "engine", "core.go"), matches[0].File)
		assert.Equal(t, 4, matches[0].Line)
		assert.Equal(t, "func Launch() {}", matches[0].Text)
	})

	t.Run("skips vendor and dot directories", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": "Launch"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)

		for _, m := range out.Data.([]Match) {
			assert.NotContains(t, m.File, "vendor")
			assert.NotContains(t, m.File, ".git")
		}
	})

	t.Run("ignore_case widens the net", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": "LAUNCH INSTRUCTIONS", "ignore_case": true}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		require.Len(t, out.Data.([]Match), 1)
	})

	t.Run("max_results caps matches", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": "Launch", "ignore_case": true, "max_results": 2}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		assert.Len(t, out.Data.([]Match), 2)
	})

	t.Run("invalid regex is a validation failure", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": "("}, inv)
		require.NotNil(t, out.Error)
		assert.Equal(t, fault.KindValidation, out.Error.Kind)
	})

	t.Run("single file search", func(t *testing.T) {
		out := registry.Execute(context.Background(), "grep_search",
			map[string]any{"pattern": "package", "path": "main.go"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		require.Len(t, out.Data.([]Match), 1)
	})
}

func TestGlobFind(t *testing.T) {
	registry := newTestRegistry(t)
	dir := fixtureTree(t)
	inv := capability.Context{Workdir: dir}

	t.Run("recursive double-star", func(t *testing.T) {
		out := registry.Execute(context.Background(), "glob_find",
			map[string]any{"pattern": "**/*.go"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)

		found := out.Data.([]string)
		assert.ElementsMatch(t, []string{
			"main.go",
			filepath.Join("engine", "core.go"),
			filepath.Join("engine", "core_test.go"),
		}, found, "vendor and dot directories stay out of glob results")
	})

	t.Run("prefixed double-star walks only the prefix", func(t *testing.T) {
		out := registry.Execute(context.Background(), "glob_find",
			map[string]any{"pattern": "engine/**/*.go"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		assert.ElementsMatch(t, []string{
			filepath.Join("engine", "core.go"),
			filepath.Join("engine", "core_test.go"),
		}, out.Data.([]string))
	})

	t.Run("simple glob", func(t *testing.T) {
		out := registry.Execute(context.Background(), "glob_find",
			map[string]any{"pattern": "*.go"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		assert.Equal(t, []string{"main.go"}, out.Data.([]string))
	})

	t.Run("no matches yields an empty list", func(t *testing.T) {
		out := registry.Execute(context.Background(), "glob_find",
			map[string]any{"pattern": "*.rs"}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		assert.Empty(t, out.Data.([]string))
	})

	t.Run("max_results caps the walk", func(t *testing.T) {
		out := registry.Execute(context.Background(), "glob_find",
			map[string]any{"pattern": "**/*.go", "max_results": 1}, inv)
		require.True(t, out.Success, "outcome error: %v", out.Error)
		assert.Len(t, out.Data.([]string), 1)
	})
}
