package tools

import "fmt"

// ErrToolUnavailable reports a call to a tool the registry does not
// hold. Its text goes back to the model as the tool result.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("a ferramenta %q não existe; use apenas as ferramentas disponíveis", e.ToolName)
}
