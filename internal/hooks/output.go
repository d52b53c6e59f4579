package hooks

import (
	"encoding/json"
	"io"
)

// SessionStartOutput is the JSON structure expected on stdout from the
// SessionStart hook.
type SessionStartOutput struct {
	HookSpecificOutput struct {
		HookEventName     string `json:"hookEventName"`
		AdditionalContext string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

// WriteSessionStartOutput writes the SessionStart response to w.
func WriteSessionStartOutput(w io.Writer, context string) error {
	out := SessionStartOutput{}
	out.HookSpecificOutput.HookEventName = "SessionStart"
	out.HookSpecificOutput.AdditionalContext = context
	return json.NewEncoder(w).Encode(out)
}
