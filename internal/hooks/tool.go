package hooks

import "net/url"

// handleTool marks today as an active day for the agent.
func handleTool(client *Client, input *HookInput) error {
	if input.ShouldSkipTool() {
		return nil
	}
	_, err := client.Post("/api/agents/"+url.PathEscape(input.AgentID())+"/activity", nil)
	return err
}
