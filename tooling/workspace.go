package tooling

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// syntheticPrefixes are absolute prefixes some models emit that map onto the
// workspace root. They are rewritten rather than rejected.
var syntheticPrefixes = []string{
	"/workspace",
	"/project",
	"/app",
	"/mnt/workspace",
}

// defaultIgnoreDirs are skipped when walking or counting workspace files.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// Workspace enforces the path contract: every path handed to a file tool is
// canonicalized and verified inside the root before use.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir (created if missing).
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve canonicalizes path and verifies it stays inside the root.
// Recognized synthetic absolute prefixes are normalized onto the root;
// other absolute paths outside the root are rejected.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	p := filepath.ToSlash(path)
	if filepath.IsAbs(p) {
		if strings.HasPrefix(p, w.root) {
			// Already inside the root.
		} else {
			recognized := false
			for _, prefix := range syntheticPrefixes {
				if p == prefix || strings.HasPrefix(p, prefix+"/") {
					p = strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
					recognized = true
					break
				}
			}
			if !recognized {
				return "", fmt.Errorf("absolute path %q is outside the workspace", path)
			}
		}
	}

	resolved := filepath.Clean(filepath.Join(w.root, strings.TrimPrefix(p, w.root)))
	if resolved != w.root && !strings.HasPrefix(resolved, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}

// Rel returns path relative to the root, for display and indexing.
func (w *Workspace) Rel(resolved string) string {
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return resolved
	}
	return filepath.ToSlash(rel)
}

// ReadFile reads a workspace file, optionally windowed by 1-based line
// offset and line limit.
func (w *Workspace) ReadFile(path string, offset, limit int) (string, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if offset <= 0 && limit <= 0 {
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// WriteFile writes a workspace file, creating parent directories.
func (w *Workspace) WriteFile(path, content string) error {
	resolved, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// RemoveFile deletes a workspace file if it exists.
func (w *Workspace) RemoveFile(path string) error {
	resolved, err := w.Resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(resolved)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FileExists reports whether a workspace file exists.
func (w *Workspace) FileExists(path string) bool {
	resolved, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// Ignored reports whether any segment of path falls under the ignore
// rules. Callers reading model-chosen paths check this before ReadFile,
// which by itself enforces only containment.
func (w *Workspace) Ignored(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if defaultIgnoreDirs[seg] {
			return true
		}
	}
	return false
}

// ListFiles walks the workspace and returns relative paths of regular files,
// honoring the ignore rules.
func (w *Workspace) ListFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if defaultIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, w.Rel(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// codeExtensions recognize source files when counting existing code.
var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".rs": true,
	".c": true, ".cc": true, ".cpp": true, ".h": true, ".cs": true,
	".swift": true, ".php": true, ".vue": true, ".svelte": true,
}

// CountCodeFiles returns how many recognized source files the workspace
// holds; the upgrade heuristic keys off this.
func (w *Workspace) CountCodeFiles() int {
	files, err := w.ListFiles()
	if err != nil {
		return 0
	}
	count := 0
	for _, f := range files {
		if codeExtensions[strings.ToLower(filepath.Ext(f))] {
			count++
		}
	}
	return count
}
