package hooks

import (
	"encoding/json"
	"strings"

	"github.com/lazypower/tiermem/internal/importance"
	"github.com/lazypower/tiermem/internal/tier"
)

// signalFlags maps phrases in a prompt to the context flags they imply.
var signalFlags = []struct {
	phrases []string
	flag    string
}{
	{[]string{"bug was", "root cause", "the fix was"}, importance.FlagCorrectsError},
	{[]string{"always use", "never use", "always do", "never do", "architecture decision", "we decided"}, tier.FlagFrameworkPrinciple},
	{[]string{"this pattern", "the trick is"}, tier.FlagProvenSolution},
}

// promptFlags returns the context flags signalled by prompt.
func promptFlags(prompt string) map[string]any {
	flags := map[string]any{}
	lower := strings.ToLower(prompt)
	for _, s := range signalFlags {
		for _, p := range s.phrases {
			if strings.Contains(lower, p) {
				flags[s.flag] = true
				break
			}
		}
	}
	return flags
}

// handleSubmit sends the user prompt through the lifecycle as a candidate.
func handleSubmit(client *Client, input *HookInput) error {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil
	}

	flags := promptFlags(input.Prompt)
	if input.SessionID != "" {
		flags["session_id"] = input.SessionID
	}
	body, err := json.Marshal(map[string]any{
		"agent_id": input.AgentID(),
		"text":     input.Prompt,
		"context":  flags,
	})
	if err != nil {
		return err
	}
	_, err = client.Post("/api/memories", body)
	return err
}
