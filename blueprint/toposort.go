package blueprint

// Order returns the generation order: code files topologically sorted by
// their declared dependencies, then every config-kind file in manifest
// order. Config files always come last no matter what they declare.
// Residual code-file cycles fall back to manifest order; cyclic reports
// whether that fallback fired.
func Order(files []FileSpec) (ordered []FileSpec, cyclic bool) {
	var code, config []FileSpec
	for _, f := range files {
		if f.IsConfig() {
			config = append(config, f)
		} else {
			code = append(code, f)
		}
	}

	ordered = append(sortCode(code, &cyclic), config...)
	return ordered, cyclic
}

// sortCode runs Kahn's algorithm over the code files, restricted to edges
// whose target is another code file in the set. Ties break by manifest
// order so output is deterministic.
func sortCode(code []FileSpec, cyclic *bool) []FileSpec {
	position := map[string]int{}
	for i, f := range code {
		position[f.Path] = i
	}

	indegree := make([]int, len(code))
	dependents := map[string][]int{}
	for i, f := range code {
		for _, dep := range f.Dependencies {
			if j, ok := position[dep]; ok && j != i {
				indegree[i]++
				dependents[dep] = append(dependents[dep], i)
			}
		}
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	emitted := make([]bool, len(code))
	out := make([]FileSpec, 0, len(code))
	for len(ready) > 0 {
		// Lowest manifest position first.
		best := 0
		for k := 1; k < len(ready); k++ {
			if ready[k] < ready[best] {
				best = k
			}
		}
		i := ready[best]
		ready = append(ready[:best], ready[best+1:]...)

		emitted[i] = true
		out = append(out, code[i])
		for _, j := range dependents[code[i].Path] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(out) < len(code) {
		*cyclic = true
		for i, f := range code {
			if !emitted[i] {
				out = append(out, f)
			}
		}
	}
	return out
}
