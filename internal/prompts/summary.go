package prompts

import "fmt"

// SummarizerSystemPrompt is the system instruction for the running-summary
// model call.
const SummarizerSystemPrompt = "You are a concise assistant that maintains a running summary of a chat between a user and Perplexity 2.0."

// SummaryMergePrompt builds the user prompt that asks the model to fold a
// new conversation segment into the existing running summary. The summary
// is regenerated whole each time, never appended to.
func SummaryMergePrompt(existingSummary, segment string) string {
	return fmt.Sprintf(`Existing summary (can be empty):
%s

New conversation segment:
%s

Update the summary to include all important user preferences, facts, and unresolved questions. Keep it under 200 words.`, existingSummary, segment)
}
