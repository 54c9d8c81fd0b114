// Package prompts contains all LLM prompt templates used by the agent.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, benefit from
// compile-time embedding, and can be validated by tests. User-facing
// configuration lives in config.yaml; this package holds the
// instructions we send to models.
//
// Convention: each prompt category gets its own file (system.go,
// summary.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string.
package prompts
