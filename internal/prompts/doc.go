// Package prompts contains the LLM instructions and the fixed
// user-facing replies of the Leozera conversation.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Public URLs (registration, plans) come from configuration and
// are passed in by the caller.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated text.
package prompts
