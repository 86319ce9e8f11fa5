package fileops

import (
	"path/filepath"
	"strings"
)

// resolvePath anchors a possibly-relative path at the invocation's working
// directory.
func resolvePath(workdir, path string) string {
	if path == "" {
		return filepath.Clean(workdir)
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workdir, path)
}

// insideDir reports whether path sits at or below dir. An empty dir contains
// nothing, so invocations without a working directory treat every target as
// outside it.
func insideDir(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
