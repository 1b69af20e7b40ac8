package llmkit

import "strings"

// CapabilityTier buckets models by how much sampling guidance they need.
// Frontier models get gentler defaults than small local models.
type CapabilityTier int

const (
	TierFrontier CapabilityTier = iota // hosted flagship models
	TierStandard                       // hosted mid-size models
	TierLocal                          // local/offline models
)

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string
	Provider      string
	ContextWindow int
	MaxOutput     int
	Tier          CapabilityTier
	Aliases       []string
}

// Models is the built-in catalog.
var Models = []ModelInfo{
	{
		ID: "claude-opus-4-6", Provider: "anthropic",
		ContextWindow: 200000, MaxOutput: 32768, Tier: TierFrontier,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic",
		ContextWindow: 200000, MaxOutput: 16384, Tier: TierFrontier,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "gpt-5.2", Provider: "openai",
		ContextWindow: 1047576, MaxOutput: 32768, Tier: TierFrontier,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai",
		ContextWindow: 1047576, MaxOutput: 16384, Tier: TierStandard,
		Aliases: []string{"gpt5-mini"},
	},
	{
		ID: "qwen2.5-coder", Provider: "ollama",
		ContextWindow: 32768, MaxOutput: 8192, Tier: TierLocal,
		Aliases: []string{"qwen-coder"},
	},
	{
		ID: "llama3.2", Provider: "ollama",
		ContextWindow: 131072, MaxOutput: 4096, Tier: TierLocal,
		Aliases: []string{"llama"},
	},
}

// LookupModel returns the catalog entry for a model id or alias, or nil.
func LookupModel(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// TierFor returns the capability tier for a model, falling back to a prefix
// heuristic for models missing from the catalog.
func TierFor(modelID string) CapabilityTier {
	if info := LookupModel(modelID); info != nil {
		return info.Tier
	}
	lower := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(lower, "claude"), strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "gemini"):
		return TierStandard
	default:
		return TierLocal
	}
}

// ContextWindowFor returns the context window for a model, with a
// conservative default for unknown models.
func ContextWindowFor(modelID string) int {
	if info := LookupModel(modelID); info != nil {
		return info.ContextWindow
	}
	return 32768
}
