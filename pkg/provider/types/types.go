package types

import "strings"

// PromptResult is one assistant answer.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata says which backend answered and what it cost.
type PromptMetadata struct {
	Provider string
	Model    string
	Agent    string
	// Usage is nil when the backend reported no token counts.
	Usage *TokenUsage
}

// LogAttrs flattens the metadata into slog key/value pairs. Empty fields
// are left out.
func (m PromptMetadata) LogAttrs() []any {
	var attrs []any
	for _, kv := range [][2]string{{"provider", m.Provider}, {"model", m.Model}, {"agent", m.Agent}} {
		if value := strings.TrimSpace(kv[1]); value != "" {
			attrs = append(attrs, kv[0], value)
		}
	}
	if m.Usage != nil {
		attrs = append(attrs,
			"input_tokens", m.Usage.InputTokens,
			"output_tokens", m.Usage.OutputTokens,
			"total_tokens", m.Usage.Total(),
		)
	}
	return attrs
}

type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	ReasoningTokens     int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Total is TotalTokens, or input plus output when the backend left it out.
func (u TokenUsage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}
