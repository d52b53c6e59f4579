package hooks

import (
	"encoding/json"
	"io"
	"net/url"
)

// handleStart injects the agent's identity context into the new session.
func handleStart(client *Client, input *HookInput, stdout io.Writer) error {
	data, err := client.Get("/api/agents/" + url.PathEscape(input.AgentID()) + "/context")
	if err != nil {
		WriteSessionStartOutput(stdout, "")
		return err
	}

	var resp struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return WriteSessionStartOutput(stdout, "")
	}
	return WriteSessionStartOutput(stdout, resp.Context)
}
