package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Loader resolves script names to parsed Scripts, caching by path with
// modification-time validation. It is constructed explicitly and passed
// down; there is no process-wide script cache.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	script  *Script
	modTime time.Time
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]cacheEntry)}
}

// Load resolves name (with or without the .fs extension) under the loader
// directory and returns the parsed script.
func (l *Loader) Load(name string) (*Script, error) {
	base := name
	if !strings.HasSuffix(base, ".fs") {
		base += ".fs"
	}
	path := filepath.Join(l.dir, filepath.Clean(base))

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", name, err)
	}

	l.mu.Lock()
	entry, ok := l.cache[path]
	l.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.script, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", name, err)
	}
	parsed, err := Parse(string(data), name)
	if err != nil {
		return nil, err
	}
	parsed.Source = path

	l.mu.Lock()
	l.cache[path] = cacheEntry{script: parsed, modTime: info.ModTime()}
	l.mu.Unlock()
	return parsed, nil
}
