package assistant

import "strings"

// Tool names the assistant capability a file is handed to.
type Tool string

const (
	ToolFileSearch      Tool = "file_search"
	ToolCodeInterpreter Tool = "code_interpreter"
	// ToolVision files are posted as image content on the message itself.
	ToolVision Tool = "vision"
)

// Spreadsheet-like files are rejected by file search and only readable from code.
var codeInterpreterTypes = map[string]struct{}{
	"text/csv": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

// MessageTool routes a file attached to a single message.
func MessageTool(mimeType string) Tool {
	mt := baseMIME(mimeType)
	if strings.HasPrefix(mt, "image/") {
		return ToolVision
	}
	if _, ok := codeInterpreterTypes[mt]; ok {
		return ToolCodeInterpreter
	}
	return ToolFileSearch
}

// AssistantTool routes a file attached to an assistant. Assistants carry no
// image content, so images go to the code interpreter.
func AssistantTool(mimeType string) Tool {
	if tool := MessageTool(mimeType); tool != ToolVision {
		return tool
	}
	return ToolCodeInterpreter
}

func baseMIME(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
