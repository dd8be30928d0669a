// Package workspace confines materialized media to the configured storage root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultStorageDirName = ".clipbot/downloads"

// maxCollisionSuffix bounds the " (n)" search so a full directory cannot spin forever.
const maxCollisionSuffix = 10000

// Guard resolves and validates media paths against the storage root.
type Guard struct {
	rootPath string
}

// NewGuard resolves a storage root path and ensures the directory exists.
func NewGuard(rootPath string) (*Guard, error) {
	resolved, err := ResolveRoot(rootPath)
	if err != nil {
		return nil, err
	}

	return &Guard{rootPath: resolved}, nil
}

// ResolveRoot normalizes storage root input and creates it when missing.
func ResolveRoot(rootPath string) (string, error) {
	trimmed := strings.TrimSpace(rootPath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(homeDir, defaultStorageDirName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute storage path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", NormalizeIOError(err, "resolve storage root")
	}

	return filepath.Clean(resolved), nil
}

// Root returns the normalized absolute storage root path.
func (g *Guard) Root() string {
	if g == nil {
		return ""
	}

	return g.rootPath
}

// ResolvePath validates and returns a canonical absolute path inside the storage root.
func (g *Guard) ResolvePath(inputPath string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "storage guard is nil")
	}

	trimmed := strings.TrimSpace(inputPath)
	if trimmed == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.rootPath, candidate)
	}

	absPath, err := filepath.Abs(candidate)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}

	effectivePath, err := canonicalPath(filepath.Clean(absPath))
	if err != nil {
		return "", err
	}

	if !isWithin(g.rootPath, effectivePath) {
		return "", NewError(ErrorOutsideStorage, "resolved path escapes storage root")
	}

	return effectivePath, nil
}

// EnsureContained re-checks containment right before mutating operations.
func (g *Guard) EnsureContained(path string) error {
	if g == nil {
		return NewError(ErrorIO, "storage guard is nil")
	}

	effectivePath, err := canonicalPath(path)
	if err != nil {
		return err
	}

	if !isWithin(g.rootPath, effectivePath) {
		return NewError(ErrorOutsideStorage, "resolved path escapes storage root")
	}

	return nil
}

// CreateUnique creates a new file for fileName inside the storage root.
//
// An existing file is never overwritten: "name.ext" becomes "name (1).ext",
// "name (2).ext" and so on. Creation uses O_EXCL so concurrent callers racing
// for the same name each end up with their own file.
func (g *Guard) CreateUnique(fileName string) (*os.File, string, error) {
	if g == nil {
		return nil, "", NewError(ErrorIO, "storage guard is nil")
	}

	base := filepath.Base(strings.TrimSpace(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, "", NewError(ErrorInvalidPath, "file name must not be empty")
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 0; n < maxCollisionSuffix; n++ {
		candidate := CollisionName(stem, ext, n)
		path, err := g.ResolvePath(candidate)
		if err != nil {
			return nil, "", err
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return file, path, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return nil, "", NormalizeIOError(err, "create file failed")
	}

	return nil, "", NewError(ErrorIO, fmt.Sprintf("no free name for %q", base))
}

// Remove deletes a file after confirming it lives under the storage root.
// A missing file reports ErrorPathNotFound.
func (g *Guard) Remove(path string) error {
	resolved, err := g.ResolvePath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(resolved); err != nil {
		return NormalizeIOError(err, "remove failed")
	}

	return nil
}

// Exists reports whether path is an existing regular file under the storage root.
func (g *Guard) Exists(path string) bool {
	resolved, err := g.ResolvePath(path)
	if err != nil {
		return false
	}

	info, err := os.Stat(resolved)
	return err == nil && info.Mode().IsRegular()
}

// RelPath returns a root-relative path when representable.
func (g *Guard) RelPath(path string) string {
	if g == nil {
		return filepath.Clean(path)
	}

	rel, err := filepath.Rel(g.rootPath, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return filepath.Clean(path)
	}
	if rel == "." {
		return "."
	}

	return filepath.Clean(rel)
}

// CollisionName renders the n-th candidate name for stem+ext; n == 0 is the bare name.
func CollisionName(stem string, ext string, n int) string {
	if n == 0 {
		return stem + ext
	}
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

func canonicalPath(path string) (string, error) {
	evaluated, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(evaluated), nil
	}
	if !os.IsNotExist(err) {
		return "", NormalizeIOError(err, "resolve path")
	}

	parent, remainder, splitErr := nearestExistingParent(path)
	if splitErr != nil {
		return "", splitErr
	}

	evaluatedParent, evalErr := filepath.EvalSymlinks(parent)
	if evalErr != nil {
		return "", NormalizeIOError(evalErr, "resolve path")
	}

	return filepath.Clean(filepath.Join(evaluatedParent, remainder)), nil
}

func nearestExistingParent(path string) (string, string, error) {
	current := filepath.Clean(path)
	parts := make([]string, 0)

	for {
		if _, err := os.Lstat(current); err == nil {
			remainder := ""
			for i := len(parts) - 1; i >= 0; i-- {
				remainder = filepath.Join(remainder, parts[i])
			}
			return current, remainder, nil
		}

		base := filepath.Base(current)
		if base == "." || base == string(filepath.Separator) {
			break
		}
		parts = append(parts, base)

		next := filepath.Dir(current)
		if next == current {
			break
		}
		current = next
	}

	return "", "", NewError(ErrorInvalidPath, "path could not be resolved")
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." {
		return false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
