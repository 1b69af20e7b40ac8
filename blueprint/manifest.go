// Package blueprint implements the two-phase new-project generator:
// Phase 1 asks the model for a JSON file manifest, Phase 2 orders it
// dependency-first (config files last) and generates each file with a
// dedicated call, tracking progress in a rollback transaction and the
// checkpoint store.
package blueprint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileSpec is one planned file of a blueprint.
type FileSpec struct {
	Path                string   `json:"path"`
	Type                string   `json:"type"`
	Description         string   `json:"description"`
	Dependencies        []string `json:"dependencies"`
	Exports             []string `json:"exports"`
	Imports             []string `json:"imports"`
	PackageDependencies []string `json:"packageDependencies"`
	RelatedFiles        []string `json:"relatedFiles"`
}

// Blueprint is the parsed project manifest.
type Blueprint struct {
	ProjectType        string     `json:"projectType"`
	ProjectDescription string     `json:"projectDescription"`
	Files              []FileSpec `json:"files"`
}

// configFileNames are treated as config-kind regardless of declared type.
var configFileNames = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"tsconfig.json":     true,
	"jsconfig.json":     true,
	"webpack.config.js": true,
	"vite.config.js":    true,
	"vite.config.ts":    true,
	"babel.config.js":   true,
	".babelrc":          true,
	".eslintrc":         true,
	".eslintrc.json":    true,
	".prettierrc":       true,
	"composer.json":     true,
	"requirements.txt":  true,
	"pyproject.toml":    true,
	"go.mod":            true,
	"cargo.toml":        true,
	"pom.xml":           true,
	"dockerfile":        true,
	".gitignore":        true,
	".env":              true,
}

// IsConfig reports whether the file is config-kind: declared type, a
// known config filename, or a *.config.* name.
func (f FileSpec) IsConfig() bool {
	if strings.EqualFold(f.Type, "config") {
		return true
	}
	name := strings.ToLower(f.Path)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if configFileNames[name] {
		return true
	}
	return strings.Contains(name, ".config.")
}

// ParseManifest extracts and decodes the manifest JSON from a raw model
// response: markdown fencing is stripped, then the substring between the
// first `{` and last `}` is parsed.
func ParseManifest(raw string) (*Blueprint, error) {
	text := stripFences(raw)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("manifest: no JSON object in response")
	}

	var bp Blueprint
	if err := json.Unmarshal([]byte(text[start:end+1]), &bp); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &bp, nil
}

// stripFences removes markdown code fencing, keeping the fenced body when
// one exists.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	first := strings.Index(text, "```")
	if first < 0 {
		return text
	}
	rest := text[first+3:]
	// Skip a language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		rest = rest[:closing]
	}
	return strings.TrimSpace(rest)
}
