package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Handle agent session hook events",
}

// hookRun dispatches event to the hooks package. Hooks never exit non-zero.
func hookRun(event string) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		var (
			url     string
			timeout time.Duration
		)
		if cfg, err := loadConfig(); err == nil {
			if !cfg.Hooks.Enabled {
				if event == "start" {
					hooks.WriteSessionStartOutput(cmd.OutOrStdout(), "")
				}
				return
			}
			url = "http://" + cfg.ListenAddr()
			timeout = time.Duration(cfg.Hooks.Timeout) * time.Second
		}
		hooks.Handle(hooks.NewClient(url, timeout), event, os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}
}

func init() {
	for _, h := range []struct{ use, short string }{
		{"start", "Handle SessionStart hook"},
		{"submit", "Handle UserPromptSubmit hook"},
		{"tool", "Handle PostToolUse hook"},
		{"end", "Handle SessionEnd hook"},
	} {
		hookCmd.AddCommand(&cobra.Command{
			Use:   h.use,
			Short: h.short,
			Run:   hookRun(h.use),
		})
	}
}
