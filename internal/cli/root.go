package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/config"
)

var (
	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tiermem",
	Short: "Tiered memory lifecycle for AI agents",
	Long: "tiermem classifies what an agent is told into four retention tiers, routes it to " +
		"immediate indexing, a batch queue or working memory, and expires it by active-day age.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.tiermem/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig reads --config, or the default path when unset.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// render writes v in the selected output format; text uses the supplied
// printer.
func render(w io.Writer, v any, text func(io.Writer) error) error {
	switch outputFormat {
	case "json":
		return writeJSON(w, v)
	case "yaml":
		return writeYAML(w, v)
	case "text", "":
		return text(w)
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}
