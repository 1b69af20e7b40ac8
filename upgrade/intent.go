// Package upgrade is the existing-project flow: classify what the user
// wants, read the relevant files (error locations first), and drive a
// targeted edit loop through the tool-call orchestrator.
package upgrade

import (
	"regexp"
	"strings"
)

// Intent is the classified request kind.
type Intent string

const (
	IntentFix     Intent = "fix"
	IntentUpgrade Intent = "upgrade"
	IntentBoth    Intent = "both"
)

// ConfidenceThreshold is the floor below which the pipeline aborts and
// asks for clarification instead of guessing.
const ConfidenceThreshold = 0.4

var fixSignals = []string{
	"fix", "bug", "broken", "crash", "error", "exception", "fail",
	"doesn't work", "does not work", "not working", "traceback", "stack trace",
	"wrong", "incorrect", "regression",
}

var upgradeSignals = []string{
	"add", "upgrade", "improve", "extend", "feature", "support",
	"refactor", "update", "change", "modify", "enhance", "rename", "remove",
}

// Classify scores the task text against both signal sets. The confidence
// reflects how clearly one reading dominates; an ambiguous or signal-free
// task scores low.
func Classify(task string) (Intent, float64) {
	lower := strings.ToLower(task)
	count := func(signals []string) int {
		n := 0
		for _, s := range signals {
			if strings.Contains(lower, s) {
				n++
			}
		}
		return n
	}
	fix := count(fixSignals)
	upg := count(upgradeSignals)

	total := fix + upg
	if total == 0 {
		return IntentUpgrade, 0
	}

	confidence := float64(total) / float64(total+1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	switch {
	case fix > 0 && upg > 0:
		return IntentBoth, confidence
	case fix > 0:
		return IntentFix, confidence
	default:
		return IntentUpgrade, confidence
	}
}

// ErrorLocation is a file/line reference parsed out of the task text.
type ErrorLocation struct {
	Path string
	Line int
}

// Common error-location shapes: `path/file.js:12`, `at path:12:5`,
// `File "x.py", line 3`, `line 12 of file.js`.
var (
	colonLocRe  = regexp.MustCompile(`([\w./-]+\.\w{1,5}):(\d+)(?::\d+)?`)
	pythonLocRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	proseLocRe  = regexp.MustCompile(`(?i)line (\d+) (?:of|in) ([\w./-]+\.\w{1,5})`)
)

// ParseErrorLocations extracts every structured location from the text,
// de-duplicated in first-appearance order.
func ParseErrorLocations(text string) []ErrorLocation {
	var out []ErrorLocation
	seen := map[ErrorLocation]bool{}
	add := func(path string, line int) {
		loc := ErrorLocation{Path: path, Line: line}
		if !seen[loc] {
			seen[loc] = true
			out = append(out, loc)
		}
	}

	for _, m := range pythonLocRe.FindAllStringSubmatch(text, -1) {
		add(m[1], atoi(m[2]))
	}
	for _, m := range colonLocRe.FindAllStringSubmatch(text, -1) {
		add(m[1], atoi(m[2]))
	}
	for _, m := range proseLocRe.FindAllStringSubmatch(text, -1) {
		add(m[2], atoi(m[1]))
	}
	return out
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
