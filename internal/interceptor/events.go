// Package interceptor implements the four stdin/stdout event handlers a
// host process invokes around each tool call and around compaction:
// pre-tool-use, post-tool-use, pre-compact, and session-start.
package interceptor

// Event is the inbound JSON shape shared by the pre-tool and post-tool
// entry points: session_id, tool_name, tool_use_id, tool_input, and an
// optional tool_response.
type Event struct {
	SessionID    string         `json:"session_id"`
	ToolName     string         `json:"tool_name"`
	ToolUseID    string         `json:"tool_use_id"`
	ToolInput    map[string]any `json:"tool_input"`
	ToolResponse any            `json:"tool_response,omitempty"`
}

// PreCompactEvent is pre-compact's inbound shape.
type PreCompactEvent struct {
	SessionID           string `json:"session_id"`
	Trigger             string `json:"trigger"` // "manual" | "auto"
	ContextWindowTokens int    `json:"context_window_tokens"`
}

// SessionStartEvent is session-start's inbound shape.
type SessionStartEvent struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"` // "startup" | "compact"
}

// Decision is the outbound JSON shape for all four entry points: {} for a
// no-op; {"decision": "block", "reason": string} to reject a work tool
// without an active task; {"additionalContext": string} for session-start
// and pre-compact to inject guidance.
type Decision struct {
	Decision          string `json:"decision,omitempty"`
	Reason            string `json:"reason,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// taskLifecycleTools mutate the task registry directly from pre-tool.
var taskLifecycleTools = map[string]bool{
	"TaskCreate": true,
	"TaskUpdate": true,
	"TodoWrite":  true,
}

// fileMutatorTools invalidate any prior Read of the paths they touch.
var fileMutatorTools = map[string]bool{
	"Edit":      true,
	"Write":     true,
	"MultiEdit": true,
}

// workTools require an active task before they are allowed to proceed.
var workTools = map[string]bool{
	"Edit":      true,
	"Write":     true,
	"MultiEdit": true,
	"Bash":      true,
}
