package blueprint

import "sync"

// Index tracks planned and written files during generation. Per-file
// prompts cross-check declared dependency exports against what was
// actually written, and the upgrade flow records touched files here.
type Index struct {
	mu    sync.RWMutex
	files map[string]*indexEntry
	order []string
}

type indexEntry struct {
	spec    FileSpec
	written bool
}

// NewIndex creates an index preloaded with the manifest's files.
func NewIndex(files []FileSpec) *Index {
	idx := &Index{files: map[string]*indexEntry{}}
	for _, f := range files {
		idx.Add(f)
	}
	return idx
}

// Add registers a planned file, replacing any previous spec at the path.
func (idx *Index) Add(spec FileSpec) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.files[spec.Path]; !ok {
		idx.order = append(idx.order, spec.Path)
	}
	idx.files[spec.Path] = &indexEntry{spec: spec}
}

// MarkWritten records that a file landed on disk.
func (idx *Index) MarkWritten(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, ok := idx.files[path]; ok {
		e.written = true
	} else {
		idx.order = append(idx.order, path)
		idx.files[path] = &indexEntry{spec: FileSpec{Path: path}, written: true}
	}
}

// Touch records an externally modified file, updating its dependencies.
func (idx *Index) Touch(path string, dependencies []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.files[path]
	if !ok {
		e = &indexEntry{spec: FileSpec{Path: path}}
		idx.order = append(idx.order, path)
		idx.files[path] = e
	}
	e.written = true
	if dependencies != nil {
		e.spec.Dependencies = dependencies
	}
}

// Spec returns the registered spec for a path.
func (idx *Index) Spec(path string) (FileSpec, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.files[path]
	if !ok {
		return FileSpec{}, false
	}
	return e.spec, true
}

// Incomplete reports whether any planned file is still unwritten. The
// orchestrator uses this as its stall-recovery gate.
func (idx *Index) Incomplete() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, p := range idx.order {
		if !idx.files[p].written {
			return true
		}
	}
	return false
}

// Written reports whether the path has been written.
func (idx *Index) Written(path string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.files[path]
	return ok && e.written
}

// WrittenPaths returns every written path in registration order.
func (idx *Index) WrittenPaths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []string
	for _, p := range idx.order {
		if idx.files[p].written {
			out = append(out, p)
		}
	}
	return out
}
