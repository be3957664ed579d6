package server

import (
	"path/filepath"
	"strings"
)

// checkLibraryPath rejects file paths that resolve outside the configured
// library. An empty path is left for the store to reject.
func (s *Server) checkLibraryPath(path string) *ValidationError {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if !withinLibrary(s.config.Library.Path, path) {
		return &ValidationError{
			Field:   "file_path",
			Message: "Path must be inside the library directory",
			Code:    "OUTSIDE_LIBRARY",
		}
	}
	return nil
}

// withinLibrary reports whether path, after resolving symlinks, is root or
// lies below it.
func withinLibrary(root, path string) bool {
	if root == "" {
		return false
	}
	resolvedRoot, err := resolvePath(root)
	if err != nil {
		return false
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolvePath makes path absolute and follows symlinks. A path that does not
// exist yet is resolved through its parent directory.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}
