package hooks

import "net/url"

// handleEnd flushes the agent's batch queue as a session snapshot.
func handleEnd(client *Client, input *HookInput) error {
	_, err := client.Post("/api/agents/"+url.PathEscape(input.AgentID())+"/flush?trigger=snapshot", nil)
	return err
}
