package fileops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grip/internal/capability"
	"grip/internal/fault"
	"grip/internal/logging"
	"grip/internal/permission"
)

// ReadResult is the structured payload returned by read_file.
type ReadResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteResult is the structured payload returned by write_file.
type WriteResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Entry is one listing row returned by list_files.
type Entry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"isDir"`
}

// ReadFileCapability returns the capability that reads file contents,
// optionally restricted to a line range.
func ReadFileCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Category:    capability.CategoryFile,
		Schema: capability.Schema{
			Required: []string{"path"},
			Properties: map[string]capability.Property{
				"path": {
					Type:        "string",
					Description: "File path, relative to the working directory unless absolute",
				},
				"start_line": {
					Type:        "integer",
					Description: "First line to include (1-indexed)",
				},
				"end_line": {
					Type:        "integer",
					Description: "Last line to include (inclusive)",
				},
			},
		},
		Output: &capability.Schema{
			Properties: map[string]capability.Property{
				"path": {
					Type:        "string",
					Description: "Resolved absolute path",
				},
				"content": {
					Type:        "string",
					Description: "File contents, or the selected line range",
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			path, _ := input["path"].(string)
			return permission.Request{
				Type:        permission.TypeRead,
				Scope:       permission.ScopeProject,
				Path:        resolvePath(inv.Workdir, path),
				Description: "read a file",
			}
		},
		Execute: executeReadFile,
	}
}

func executeReadFile(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
	rawPath, _ := input["path"].(string)
	path := resolvePath(inv.Workdir, rawPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	content := string(data)

	start, hasStart := capability.IntArg(input["start_line"])
	end, hasEnd := capability.IntArg(input["end_line"])
	if hasStart || hasEnd {
		lines := strings.Split(content, "\n")
		if !hasStart || start < 1 {
			start = 1
		}
		if !hasEnd || end > int64(len(lines)) {
			end = int64(len(lines))
		}
		if start > int64(len(lines)) {
			return nil, fault.Validationf("start_line %d is beyond the %d line(s) in %s", start, len(lines), path)
		}
		if start > end {
			return nil, fault.Validationf("line range %d-%d is inverted", start, end)
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	logging.Capability("read_file: %s (%d bytes)", path, len(content))
	return &ReadResult{Path: path, Content: content}, nil
}

// WriteFileCapability returns the capability that writes content to a file.
// Targets outside the working directory escalate the permission request to
// system-wide scope.
func WriteFileCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "write_file",
		Description: "Write content to a file, creating it if missing",
		Category:    capability.CategoryFile,
		Schema: capability.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]capability.Property{
				"path": {
					Type:        "string",
					Description: "File path, relative to the working directory unless absolute",
				},
				"content": {
					Type:        "string",
					Description: "Content to write",
				},
				"create_dirs": {
					Type:        "boolean",
					Description: "Create parent directories when missing (default: true)",
					Default:     true,
				},
			},
		},
		Output: &capability.Schema{
			Properties: map[string]capability.Property{
				"path": {
					Type:        "string",
					Description: "Resolved absolute path",
				},
				"bytes": {
					Type:        "integer",
					Description: "Bytes written",
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			path, _ := input["path"].(string)
			target := resolvePath(inv.Workdir, path)
			scope := permission.ScopeProject
			if !insideDir(inv.Workdir, target) {
				scope = permission.ScopeSystem
			}
			return permission.Request{
				Type:        permission.TypeWrite,
				Scope:       scope,
				Path:        target,
				Description: "write a file",
			}
		},
		Execute: executeWriteFile,
	}
}

func executeWriteFile(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
	rawPath, _ := input["path"].(string)
	path := resolvePath(inv.Workdir, rawPath)
	content, _ := input["content"].(string)

	createDirs := true
	if cd, ok := input["create_dirs"].(bool); ok {
		createDirs = cd
	}
	if createDirs {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directories for %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	logging.Capability("write_file: %s (%d bytes)", path, len(content))
	return &WriteResult{Path: path, Bytes: len(content)}, nil
}

// ListFilesCapability returns the capability that lists a directory.
func ListFilesCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "list_files",
		Description: "List files in a directory",
		Category:    capability.CategoryFile,
		Schema: capability.Schema{
			Properties: map[string]capability.Property{
				"path": {
					Type:        "string",
					Description: "Directory to list (default: the working directory)",
				},
				"recursive": {
					Type:        "boolean",
					Description: "Descend into subdirectories (default: false)",
					Default:     false,
				},
				"include_hidden": {
					Type:        "boolean",
					Description: "Include dotfiles (default: false)",
					Default:     false,
				},
				"max_results": {
					Type:        "integer",
					Description: "Entry cap (default: 500)",
					Default:     500,
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			path, _ := input["path"].(string)
			return permission.Request{
				Type:        permission.TypeRead,
				Scope:       permission.ScopeProject,
				Path:        resolvePath(inv.Workdir, path),
				Description: "list a directory",
			}
		},
		Execute: executeListFiles,
	}
}

func executeListFiles(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
	rawPath, _ := input["path"].(string)
	root := resolvePath(inv.Workdir, rawPath)

	recursive := false
	if r, ok := input["recursive"].(bool); ok {
		recursive = r
	}
	includeHidden := false
	if ih, ok := input["include_hidden"].(bool); ok {
		includeHidden = ih
	}
	maxResults := int64(500)
	if mr, ok := capability.IntArg(input["max_results"]); ok && mr > 0 {
		maxResults = mr
	}

	var entries []Entry
	if recursive {
		err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			name := d.Name()
			if !includeHidden && strings.HasPrefix(name, ".") && p != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(root, p)
			if rel == "." {
				return nil
			}
			if int64(len(entries)) >= maxResults {
				return filepath.SkipAll
			}
			entries = append(entries, listEntry(rel, d))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	} else {
		dirents, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", root, err)
		}
		for _, d := range dirents {
			if !includeHidden && strings.HasPrefix(d.Name(), ".") {
				continue
			}
			if int64(len(entries)) >= maxResults {
				break
			}
			entries = append(entries, listEntry(d.Name(), d))
		}
	}

	if entries == nil {
		entries = []Entry{}
	}
	logging.Capability("list_files: %s (%d entries)", root, len(entries))
	return entries, nil
}

func listEntry(rel string, d os.DirEntry) Entry {
	e := Entry{Path: rel, IsDir: d.IsDir()}
	if info, err := d.Info(); err == nil && !d.IsDir() {
		e.Size = info.Size()
	}
	return e
}
