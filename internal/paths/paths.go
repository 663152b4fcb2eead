// Package paths provides canonical path handling and workspace containment
// checks for file-serving endpoints.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"sdx/internal/errors"
)

// Canonicalize converts an absolute path to a workspace-relative canonical
// path with forward slashes. Symlinks are resolved where possible; a path
// that does not exist yet is used as-is.
func Canonicalize(absolutePath string, workspaceRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	rootResolved, err := filepath.EvalSymlinks(workspaceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			rootResolved = workspaceRoot
		} else {
			return "", err
		}
	}

	relativePath, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}

	return filepath.ToSlash(relativePath), nil
}

// IsWithin checks whether a path is inside the workspace root.
func IsWithin(path string, workspaceRoot string) bool {
	canonical, err := Canonicalize(path, workspaceRoot)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// ResolveWithin resolves a relative path against the workspace root,
// refusing any path that escapes it. Returns the absolute path.
func ResolveWithin(workspaceRoot string, relative string) (string, error) {
	if filepath.IsAbs(relative) {
		return "", errors.Newf(errors.Forbidden, "absolute path not allowed: %s", relative)
	}

	abs := filepath.Join(workspaceRoot, filepath.FromSlash(relative))
	if !IsWithin(abs, workspaceRoot) {
		return "", errors.Newf(errors.Forbidden, "path escapes workspace root: %s", relative)
	}
	return abs, nil
}

// Normalize converts backslashes to forward slashes for paths that are
// already relative. Index rows always store forward-slash paths.
func Normalize(path string) string {
	return filepath.ToSlash(path)
}
