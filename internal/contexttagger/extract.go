package contexttagger

import (
	"encoding/json"
)

// extractText dispatches on tool shape to pull the text whose length drives
// the token estimate, grounded on hooks/post_tool_use.py's _extract_text:
// Read-shaped (nested file.content), Bash-shaped (stdout+stderr),
// Edit/Write-shaped (filePath+new content, or a path marker when the new
// content is empty), a generic "text" field, and a canonical-JSON fallback
// for anything else.
func extractText(toolName string, toolOutput any) string {
	m, ok := toolOutput.(map[string]any)
	if !ok {
		return fallbackText(toolOutput)
	}

	switch toolName {
	case "Read":
		if file, ok := m["file"].(map[string]any); ok {
			s, _ := stringField(file, "content")
			return s
		}
	case "Bash":
		out, _ := stringField(m, "stdout")
		errOut, _ := stringField(m, "stderr")
		return out + errOut
	case "Edit", "Write", "MultiEdit":
		if filePath, ok := stringField(m, "filePath"); ok {
			new, hasNew := stringField(m, "newString")
			if !hasNew {
				new, _ = stringField(m, "content")
			}
			if new != "" {
				return new
			}
			return "edited:" + filePath
		}
		if s, ok := stringField(m, "newString"); ok {
			return s
		}
		if s, ok := stringField(m, "content"); ok {
			return s
		}
	}

	if s, ok := stringField(m, "text"); ok {
		return s
	}
	return fallbackText(toolOutput)
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func fallbackText(toolOutput any) string {
	b, err := json.Marshal(toolOutput)
	if err != nil {
		return ""
	}
	return string(b)
}
