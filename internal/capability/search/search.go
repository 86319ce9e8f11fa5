package search

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"grip/internal/capability"
	"grip/internal/fault"
	"grip/internal/logging"
	"grip/internal/permission"
)

// Match is one grep_search hit.
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// skippedDir names directories never worth searching.
func skippedDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor"
}

func resolvePath(workdir, path string) string {
	if path == "" {
		return filepath.Clean(workdir)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workdir, path)
}

// GrepSearchCapability returns the regex content search capability.
func GrepSearchCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "grep_search",
		Description: "Search file contents for a regex pattern",
		Category:    capability.CategorySearch,
		Schema: capability.Schema{
			Required: []string{"pattern"},
			Properties: map[string]capability.Property{
				"pattern": {
					Type:        "string",
					Description: "Regular expression to search for",
				},
				"path": {
					Type:        "string",
					Description: "File or directory to search (default: the working directory)",
				},
				"file_pattern": {
					Type:        "string",
					Description: "Glob filter on file names, e.g. *.go",
				},
				"max_results": {
					Type:        "integer",
					Description: "Match cap (default: 100)",
					Default:     100,
				},
				"ignore_case": {
					Type:        "boolean",
					Description: "Case-insensitive matching (default: false)",
					Default:     false,
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			path, _ := input["path"].(string)
			return permission.Request{
				Type:        permission.TypeRead,
				Scope:       permission.ScopeProject,
				Path:        resolvePath(inv.Workdir, path),
				Description: "search file contents",
			}
		},
		Execute: executeGrepSearch,
	}
}

func executeGrepSearch(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return nil, fault.Validation(`field "pattern" cannot be blank`)
	}
	if ic, _ := input["ignore_case"].(bool); ic {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fault.Validationf("invalid regex pattern: %v", err)
	}

	rawPath, _ := input["path"].(string)
	root := resolvePath(inv.Workdir, rawPath)
	filePattern, _ := input["file_pattern"].(string)
	maxResults := int64(100)
	if mr, ok := capability.IntArg(input["max_results"]); ok && mr > 0 {
		maxResults = mr
	}

	files, err := collectFiles(root, filePattern)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		if int64(len(matches)) >= maxResults {
			break
		}
		found, err := scanFile(file, re, maxResults-int64(len(matches)))
		if err != nil {
			continue
		}
		matches = append(matches, found...)
	}

	logging.Capability("grep_search: %s under %s (%d matches)", pattern, root, len(matches))
	return matches, nil
}

// collectFiles gathers the files to scan: root itself when it is a file,
// otherwise a walk filtered by the name glob.
func collectFiles(root, filePattern string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("search path %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && skippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filePattern != "" {
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

func scanFile(path string, re *regexp.Regexp, budget int64) ([]Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			matches = append(matches, Match{File: path, Line: lineNum, Text: strings.TrimSpace(line)})
			if int64(len(matches)) >= budget {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// GlobFindCapability returns the filename pattern walk capability.
func GlobFindCapability() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        "glob_find",
		Description: "Find files whose names match a glob pattern",
		Category:    capability.CategorySearch,
		Schema: capability.Schema{
			Required: []string{"pattern"},
			Properties: map[string]capability.Property{
				"pattern": {
					Type:        "string",
					Description: "Glob pattern, e.g. **/*.go or cmd/*.json",
				},
				"path": {
					Type:        "string",
					Description: "Base directory (default: the working directory)",
				},
				"max_results": {
					Type:        "integer",
					Description: "Result cap (default: 200)",
					Default:     200,
				},
			},
		},
		Permission: func(input map[string]any, inv capability.Context) permission.Request {
			path, _ := input["path"].(string)
			return permission.Request{
				Type:        permission.TypeRead,
				Scope:       permission.ScopeProject,
				Path:        resolvePath(inv.Workdir, path),
				Description: "find files by name",
			}
		},
		Execute: executeGlobFind,
	}
}

func executeGlobFind(ctx context.Context, input map[string]any, inv capability.Context) (any, error) {
	pattern, _ := input["pattern"].(string)
	if pattern == "" {
		return nil, fault.Validation(`field "pattern" cannot be blank`)
	}

	rawPath, _ := input["path"].(string)
	base := resolvePath(inv.Workdir, rawPath)
	maxResults := int64(200)
	if mr, ok := capability.IntArg(input["max_results"]); ok && mr > 0 {
		maxResults = mr
	}

	var found []string
	if idx := strings.Index(pattern, "**"); idx >= 0 {
		prefix := strings.TrimSuffix(pattern[:idx], "/")
		suffix := strings.TrimPrefix(pattern[idx+2:], "/")
		searchRoot := base
		if prefix != "" {
			searchRoot = filepath.Join(base, prefix)
		}

		err := filepath.WalkDir(searchRoot, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if p != searchRoot && skippedDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if int64(len(found)) >= maxResults {
				return filepath.SkipAll
			}
			rel, _ := filepath.Rel(base, p)
			if suffix == "" {
				found = append(found, rel)
				return nil
			}
			if matched, _ := filepath.Match(suffix, d.Name()); matched {
				found = append(found, rel)
				return nil
			}
			if matched, _ := filepath.Match(suffix, rel); matched {
				found = append(found, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", base, err)
		}
	} else {
		globbed, err := filepath.Glob(filepath.Join(base, pattern))
		if err != nil {
			return nil, fault.Validationf("invalid glob pattern: %v", err)
		}
		for _, p := range globbed {
			if int64(len(found)) >= maxResults {
				break
			}
			rel, _ := filepath.Rel(base, p)
			found = append(found, rel)
		}
	}

	logging.Capability("glob_find: %s under %s (%d files)", pattern, base, len(found))
	if found == nil {
		found = []string{}
	}
	return found, nil
}
