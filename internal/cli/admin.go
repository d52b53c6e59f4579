package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/hooks"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
)

// Sweep, promote and stats go through the running server: pending prompts,
// batch queues and working memory live in its process.

var (
	sweepDryRun bool
	sweepAgent  string
	promoteBy   string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete memories past their active-day retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if sweepDryRun {
			q.Set("dry_run", "true")
		}
		if sweepAgent != "" {
			q.Set("agent", sweepAgent)
		}
		var rep engine.SweepReport
		if err := callAPI("POST", "/api/sweep?"+q.Encode(), nil, &rep); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), rep, func(w io.Writer) error {
			return printSweep(w, &rep)
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <key> <0|1|2|N>",
	Short: "Answer a pending promotion prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := promotion.ParseDecision(args[1]); err != nil {
			return err
		}
		body, err := json.Marshal(map[string]string{"decision": args[1], "initiator": promoteBy})
		if err != nil {
			return err
		}
		var res struct {
			Promoted bool             `json:"promoted"`
			Event    *promotion.Event `json:"event"`
			Record   *model.Record    `json:"record"`
		}
		if err := callAPI("POST", "/api/memories/"+url.PathEscape(args[0])+"/promotion", body, &res); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			if !res.Promoted || res.Event == nil {
				_, err := fmt.Fprintf(w, "%s kept at %s\n", args[0], res.Record.Tier)
				return err
			}
			_, err := fmt.Fprintf(w, "%s promoted %s -> %s by %s, %s\n",
				args[0], res.Event.OldTier, res.Event.NewTier, res.Event.Initiator, expiry(res.Record))
			return err
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <agent>",
	Short: "Show an agent's memory partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var st engine.Stats
		if err := callAPI("GET", "/api/agents/"+url.PathEscape(args[0])+"/stats", nil, &st); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), st, func(w io.Writer) error {
			return printStats(w, &st)
		})
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "report what would be deleted without deleting")
	sweepCmd.Flags().StringVar(&sweepAgent, "agent", "", "sweep only this agent")
	promoteCmd.Flags().StringVar(&promoteBy, "by", promotion.ByUser, "initiator: user or agent")
}

// callAPI sends a request to the configured server and decodes the JSON
// response into out.
func callAPI(method, path string, body []byte, out any) error {
	var serverURL string
	if cfg, err := loadConfig(); err == nil {
		serverURL = "http://" + cfg.ListenAddr()
	}
	client := hooks.NewClient(serverURL, 0)

	var (
		data []byte
		err  error
	)
	if method == "POST" {
		data, err = client.Post(path, body)
	} else {
		data, err = client.Get(path)
	}
	if err != nil {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func expiry(rec *model.Record) string {
	if rec == nil || rec.ExpiresAt == nil {
		return "never expires"
	}
	return "expires " + humanize.Time(*rec.ExpiresAt)
}

func printStats(w io.Writer, st *engine.Stats) error {
	fmt.Fprintf(w, "agent:           %s\n", st.AgentID)
	fmt.Fprintf(w, "persisted:       %s\n", humanize.Comma(int64(st.Persisted)))
	for _, name := range []string{"anchor", "principle", "solution", "context"} {
		fmt.Fprintf(w, "  %-14s %d\n", name+":", st.Tiers[name])
	}
	fmt.Fprintf(w, "batch queue:     %d\n", st.BatchQueue)
	fmt.Fprintf(w, "working memory:  %d\n", st.WorkingMemory)
	fmt.Fprintf(w, "pending prompts: %d\n", st.PendingPrompts)
	fmt.Fprintf(w, "active days:     %d\n", st.ActiveDays)
	if st.LastActive != nil {
		fmt.Fprintf(w, "last active:     %s\n", humanize.Time(*st.LastActive))
	} else {
		fmt.Fprintln(w, "last active:     never")
	}
	return nil
}

func printSweep(w io.Writer, rep *engine.SweepReport) error {
	verb := "deleted"
	if rep.DryRun {
		verb = "would delete"
	}
	fmt.Fprintf(w, "sweep %s: %s %d across %d agents\n",
		rep.At.Format("2006-01-02 15:04:05"), verb, rep.Deleted, len(rep.Agents))
	for _, a := range rep.Agents {
		fmt.Fprintf(w, "  %s: %d of %d (%d active days)", a.AgentID, a.Deleted, a.Examined, a.ActiveDays)
		if len(a.ByTier) > 0 {
			tiers := make([]string, 0, len(a.ByTier))
			for t, n := range a.ByTier {
				tiers = append(tiers, fmt.Sprintf("%s=%d", t, n))
			}
			sort.Strings(tiers)
			fmt.Fprintf(w, " [%s]", strings.Join(tiers, " "))
		}
		fmt.Fprintln(w)
		for _, e := range a.Audit {
			fmt.Fprintf(w, "    %s %s active=%d/%d calendar=%d %q\n",
				e.Key, e.Reason, e.ActiveAge, e.RetentionDays, e.CalendarAge, e.Preview)
		}
	}
	return nil
}
