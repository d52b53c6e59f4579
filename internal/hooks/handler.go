package hooks

import (
	"encoding/json"
	"fmt"
	"io"
)

// Handle reads HookInput from stdin, dispatches to the handler for event and
// writes any hook output to stdout. Failures go to stderr; a hook never fails
// the session that invoked it.
func Handle(client *Client, event string, stdin io.Reader, stdout, stderr io.Writer) {
	if err := Run(client, event, stdin, stdout); err != nil {
		fmt.Fprintf(stderr, "tiermem hook: %v\n", err)
	}
}

// Run is Handle with an explicit client and error.
func Run(client *Client, event string, stdin io.Reader, stdout io.Writer) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && err != io.EOF {
		// Stdin may be empty for some events
		if event == "start" {
			return WriteSessionStartOutput(stdout, "")
		}
		return fmt.Errorf("decode stdin: %w", err)
	}

	if !client.Healthy() {
		if event == "start" {
			return WriteSessionStartOutput(stdout, "")
		}
		return nil
	}

	switch event {
	case "start":
		return handleStart(client, &input, stdout)
	case "submit":
		return handleSubmit(client, &input)
	case "tool":
		return handleTool(client, &input)
	case "end":
		return handleEnd(client, &input)
	}
	return fmt.Errorf("unknown hook event: %s", event)
}
