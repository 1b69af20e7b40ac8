package interp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/script"
)

// taskKind buckets prompts so sampling defaults can differ between code
// generation, debugging, and analysis work.
type taskKind int

const (
	taskDefault taskKind = iota
	taskCodeGen
	taskProblemSolving
	taskAnalysis
)

var codeGenHints = []string{"implement", "write code", "create a", "build a", "generate", "scaffold", "app", "project", "website", "component"}
var problemHints = []string{"fix", "debug", "error", "bug", "crash", "fail", "broken", "traceback", "exception"}
var analysisHints = []string{"analyze", "review", "explain", "summarize", "compare", "describe"}

func detectTaskKind(content string) taskKind {
	lower := strings.ToLower(content)
	contains := func(hints []string) bool {
		for _, h := range hints {
			if strings.Contains(lower, h) {
				return true
			}
		}
		return false
	}
	switch {
	case contains(problemHints):
		return taskProblemSolving
	case contains(codeGenHints):
		return taskCodeGen
	case contains(analysisHints):
		return taskAnalysis
	}
	return taskDefault
}

// samplingProfile is one row of the defaults table.
type samplingProfile struct {
	temperature float64
	topP        float64
	topK        int
}

// samplingDefaults is keyed by task kind, then model capability tier.
// Frontier models get slightly warmer defaults than local ones, which
// drift badly at high temperature.
var samplingDefaults = map[taskKind]map[llmkit.CapabilityTier]samplingProfile{
	taskCodeGen: {
		llmkit.TierFrontier: {temperature: 0.2, topP: 0.9, topK: 40},
		llmkit.TierStandard: {temperature: 0.2, topP: 0.9, topK: 40},
		llmkit.TierLocal:    {temperature: 0.1, topP: 0.8, topK: 20},
	},
	taskProblemSolving: {
		llmkit.TierFrontier: {temperature: 0.1, topP: 0.85, topK: 30},
		llmkit.TierStandard: {temperature: 0.1, topP: 0.85, topK: 30},
		llmkit.TierLocal:    {temperature: 0.05, topP: 0.8, topK: 20},
	},
	taskAnalysis: {
		llmkit.TierFrontier: {temperature: 0.4, topP: 0.95, topK: 50},
		llmkit.TierStandard: {temperature: 0.4, topP: 0.95, topK: 50},
		llmkit.TierLocal:    {temperature: 0.3, topP: 0.9, topK: 40},
	},
	taskDefault: {
		llmkit.TierFrontier: {temperature: 0.7, topP: 0.95, topK: 50},
		llmkit.TierStandard: {temperature: 0.7, topP: 0.95, topK: 50},
		llmkit.TierLocal:    {temperature: 0.5, topP: 0.9, topK: 40},
	},
}

// applySampling fills request sampling fields from placeholder overrides,
// falling back to the task/tier defaults table.
func applySampling(req *llmkit.Request, ph *script.Placeholder, kind taskKind) {
	profile := samplingDefaults[kind][llmkit.TierFor(req.Model)]
	temperature, topP, topK := profile.temperature, profile.topP, profile.topK
	if ph != nil {
		if ph.Temperature != nil {
			temperature = *ph.Temperature
		}
		if ph.TopP != nil {
			topP = *ph.TopP
		}
		if ph.TopK != nil {
			topK = *ph.TopK
		}
	}
	req.Temperature = &temperature
	req.TopP = &topP
	req.TopK = &topK
}

// filterHistory drops system-role and empty-text entries, keeping tool
// traffic and substantive turns.
func filterHistory(history []llmkit.Message) []llmkit.Message {
	out := make([]llmkit.Message, 0, len(history))
	for _, m := range history {
		if m.Role == llmkit.RoleSystem {
			continue
		}
		if m.ToolResult == nil && len(m.ToolCalls) == 0 && strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// choiceInstruction renders the constrained-choice suffix appended to the
// outgoing message.
func choiceInstruction(choice *script.ChoiceSpec) string {
	var sb strings.Builder
	if choice.Count > 1 {
		fmt.Fprintf(&sb, "Choose exactly %d of the following options", choice.Count)
	} else {
		sb.WriteString("Respond with exactly one of the following options")
	}
	if choice.Random {
		sb.WriteString(", picked at random")
	}
	sb.WriteString(": ")
	sb.WriteString(strings.Join(choice.Options, ", "))
	sb.WriteString(". Reply with the option text only.")
	return sb.String()
}

// resolveChoice canonicalizes a raw model response against the option
// set: case-insensitive exact match first, then whole-word containment,
// then plain substring. A single-option constraint always substitutes.
// Random choices pass the raw response through.
func resolveChoice(raw string, choice *script.ChoiceSpec) string {
	trimmed := strings.TrimSpace(raw)
	if choice == nil || len(choice.Options) == 0 {
		return trimmed
	}
	if len(choice.Options) == 1 {
		return choice.Options[0]
	}
	if choice.Random {
		return trimmed
	}

	for _, opt := range choice.Options {
		if strings.EqualFold(trimmed, opt) {
			return opt
		}
	}
	lower := strings.ToLower(trimmed)
	for _, opt := range choice.Options {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(opt)) + `\b`)
		if re.MatchString(lower) {
			return opt
		}
	}
	for _, opt := range choice.Options {
		if strings.Contains(lower, strings.ToLower(opt)) {
			return opt
		}
	}
	return trimmed
}
