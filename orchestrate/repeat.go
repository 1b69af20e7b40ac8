package orchestrate

import "strings"

// repeatWindow is how many of the most recent tool invocations the repeat
// detector inspects.
const repeatWindow = 10

// defaultRepeatThreshold trips the detector when the same tool shows up
// twice in the window. Tools that are legitimately called many times in a
// row carry higher thresholds.
const defaultRepeatThreshold = 2

var repeatThresholds = map[string]int{
	"read_file":  8,
	"write_file": 8,
	"edit_file":  6,
	"shell":      4,
	"list_files": 3,
}

// callLog tracks recently executed tool names for repeat detection.
type callLog struct {
	names []string
}

func (l *callLog) record(name string) {
	l.names = append(l.names, name)
	if len(l.names) > repeatWindow {
		l.names = l.names[len(l.names)-repeatWindow:]
	}
}

// wouldRepeat reports whether executing name would exceed its repeat
// threshold given the recent call history.
func (l *callLog) wouldRepeat(name string) bool {
	threshold := defaultRepeatThreshold
	if t, ok := repeatThresholds[name]; ok {
		threshold = t
	}
	count := 1 // the call under consideration
	for _, n := range l.names {
		if n == name {
			count++
		}
	}
	return count > threshold
}

// boilerplate phrases that indicate the model produced filler text instead
// of progress.
var stallPhrases = []string{
	"let me know",
	"feel free to",
	"i have completed",
	"is now complete",
	"anything else",
	"happy to help",
}

// looksStalled reports whether a continuation response with no tool calls
// reads like a premature wrap-up rather than a substantive answer.
func looksStalled(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len(trimmed) < 200 {
		lower := strings.ToLower(trimmed)
		for _, p := range stallPhrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return len(trimmed) < 40
	}
	return false
}
