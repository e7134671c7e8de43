package models

// Record describes one upstream model and its token limits.
type Record struct {
	ID              string
	DisplayName     string
	MaxInputTokens  int
	MaxOutputTokens int
}

// Usage records token accounting in the OpenAI shape.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EstimateUsage derives OpenAI-style token counts for a finished response.
// The upstream reports context consumption as a percentage of the model's
// input window, so prompt tokens are only known when the model record is.
func EstimateUsage(rec Record, contextPercent float64, outputChars int) Usage {
	var u Usage
	if rec.MaxInputTokens > 0 && contextPercent > 0 {
		u.PromptTokens = int(contextPercent / 100 * float64(rec.MaxInputTokens))
	}
	u.CompletionTokens = (outputChars + 3) / 4
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
