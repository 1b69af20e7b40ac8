package blueprint

import (
	"fmt"

	"github.com/forgekit/forge/tooling"
)

// Validate checks a parsed manifest. Zero files is fatal; duplicate
// paths, invalid or out-of-workspace paths, unresolved dependencies, and
// dependency cycles are warnings. Files with invalid paths are filtered
// out of the returned manifest; everything else passes through.
func Validate(bp *Blueprint, ws *tooling.Workspace) (*Blueprint, []string, error) {
	if len(bp.Files) == 0 {
		return nil, nil, fmt.Errorf("manifest declares no files")
	}

	var warnings []string
	seen := map[string]bool{}
	kept := make([]FileSpec, 0, len(bp.Files))

	for _, f := range bp.Files {
		if f.Path == "" {
			warnings = append(warnings, "file with empty path dropped")
			continue
		}
		if seen[f.Path] {
			warnings = append(warnings, fmt.Sprintf("duplicate path %q dropped", f.Path))
			continue
		}
		if ws != nil {
			if _, err := ws.Resolve(f.Path); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid path %q dropped: %v", f.Path, err))
				continue
			}
		}
		seen[f.Path] = true
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return nil, warnings, fmt.Errorf("manifest has no valid files")
	}

	for _, f := range kept {
		for _, dep := range f.Dependencies {
			if !seen[dep] {
				warnings = append(warnings, fmt.Sprintf("%s depends on %q, which is not in the manifest", f.Path, dep))
			}
		}
	}
	if hasCycle(kept) {
		warnings = append(warnings, "dependency cycle detected; falling back to manifest order for the cyclic files")
	}

	out := *bp
	out.Files = kept
	return &out, warnings, nil
}

// hasCycle reports whether the declared dependency edges contain a cycle.
func hasCycle(files []FileSpec) bool {
	deps := map[string][]string{}
	present := map[string]bool{}
	for _, f := range files {
		present[f.Path] = true
	}
	for _, f := range files {
		for _, d := range f.Dependencies {
			if present[d] {
				deps[f.Path] = append(deps[f.Path], d)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var visit func(path string) bool
	visit = func(path string) bool {
		switch state[path] {
		case visiting:
			return true
		case done:
			return false
		}
		state[path] = visiting
		for _, d := range deps[path] {
			if visit(d) {
				return true
			}
		}
		state[path] = done
		return false
	}
	for _, f := range files {
		if visit(f.Path) {
			return true
		}
	}
	return false
}
