package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// HookInput represents the JSON an agent session sends on stdin to hook handlers.
// All fields are optional; different events populate different subsets.
type HookInput struct {
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	HookEventName string `json:"hook_event_name"`

	// SessionStart
	Source string `json:"source,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// PostToolUse
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// SessionEnd
	Reason string `json:"reason,omitempty"`
}

// skipTools are meta-tools that say nothing about the agent being active on
// real work.
var skipTools = map[string]bool{
	"TodoRead":   true,
	"TodoWrite":  true,
	"Thinking":   true,
	"TaskList":   true,
	"TaskCreate": true,
	"TaskGet":    true,
	"TaskUpdate": true,
}

// ShouldSkipTool returns true if this tool use should not count as activity.
func (h *HookInput) ShouldSkipTool() bool {
	return skipTools[h.ToolName]
}

// AgentID names the memory partition for this session: TIERMEM_AGENT_ID if
// set, else the base name of the working directory, else "default".
func (h *HookInput) AgentID() string {
	if id := os.Getenv("TIERMEM_AGENT_ID"); id != "" {
		return id
	}
	if h.CWD != "" {
		if base := filepath.Base(h.CWD); base != "/" && base != "." {
			return base
		}
	}
	return "default"
}
