package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

var (
	classifyFlags []string
	classifyTier  string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Show how text would be tiered and routed",
	Long: "Runs directive detection, importance scoring and tier classification on the text " +
		"without storing anything. Novelty is scored against an empty history.",
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringArrayVar(&classifyFlags, "flag", nil, "context flag as key=value (repeatable)")
	classifyCmd.Flags().StringVar(&classifyTier, "tier", "", "tier override (anchor, principle, solution, context or 0-3)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	flags, err := parseFlags(classifyFlags)
	if err != nil {
		return err
	}
	var override *tier.Tier
	if classifyTier != "" {
		t, err := tier.Parse(classifyTier)
		if err != nil {
			return err
		}
		override = &t
	}

	plan := engine.NewPlanner().Plan(strings.Join(args, " "), flags, override, nil)
	return render(cmd.OutOrStdout(), plan, func(w io.Writer) error {
		return printPlan(w, plan)
	})
}

func printPlan(w io.Writer, plan engine.Plan) error {
	if d := plan.Directive; d != nil {
		fmt.Fprintf(w, "directive:  %s (%q, confidence %.2f, scope %s)\n", d.Action, d.Trigger, d.Confidence, d.Scope)
	}
	if h := plan.Hint; h != nil {
		fmt.Fprintf(w, "hint:       %s (%q)\n", h.Action, h.Trigger)
	}
	fmt.Fprintf(w, "route:      %s\n", plan.Route)
	fmt.Fprintf(w, "priority:   %s\n", plan.Priority)
	if plan.Route == model.RouteNone {
		return nil
	}
	fmt.Fprintf(w, "tier:       %d (%s), %s\n", int(plan.Class.Tier), plan.Class.Tier, plan.Class.Policy)
	fmt.Fprintf(w, "reason:     %s\n", plan.Class.Reason)
	fmt.Fprintf(w, "importance: %.2f\n", plan.Score.Total)
	for _, r := range plan.Score.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	return nil
}

// parseFlags turns key=value pairs into candidate context flags. Booleans
// and numbers are typed; anything else stays a string.
func parseFlags(pairs []string) (map[string]any, error) {
	flags := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --flag %q, want key=value", p)
		}
		if b, err := strconv.ParseBool(v); err == nil {
			flags[k] = b
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			flags[k] = f
		} else {
			flags[k] = v
		}
	}
	return flags, nil
}
