package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/authprobe/internal/output"
	"github.com/PentesterFlow/authprobe/internal/state"
	"github.com/PentesterFlow/authprobe/pkg/probe"
)

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogger(config, cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	if config.HistoryPath == "" {
		return fmt.Errorf("no history configured (use --history or history_path)")
	}

	store, err := state.OpenStore(config.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	history := state.NewHistory(store, log.WithComponent("history"))
	defer history.Close()

	asJSON := config.Output.Format == "json"

	switch {
	case len(compareRuns) > 0:
		if len(compareRuns) != 2 {
			return fmt.Errorf("--compare takes two run ids")
		}
		before, err := history.Get(compareRuns[0])
		if err != nil {
			return fmt.Errorf("run %s: %w", compareRuns[0], err)
		}
		after, err := history.Get(compareRuns[1])
		if err != nil {
			return fmt.Errorf("run %s: %w", compareRuns[1], err)
		}
		changes := state.Compare(before.Report, after.Report)
		if asJSON {
			return writeJSON(out, changes, true)
		}
		printChanges(out, before.ID, after.ID, changes)
		return nil

	case showRun != "":
		rec, err := history.Get(showRun)
		if err != nil {
			return fmt.Errorf("run %s: %w", showRun, err)
		}
		w := output.NewWriter(struct{ io.Writer }{out}, output.Config{
			Format: config.Output.Format,
			Pretty: true,
		})
		defer w.Close()
		return w.WriteReport(rec.Report)
	}

	listings, err := history.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if asJSON {
		return writeJSON(out, listings, true)
	}
	if len(listings) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTARGET\tTENANT\tTOKENS\tPARTIAL\tNO RESPONSE\tFIRST WORKING")
	for _, l := range listings {
		first := l.FirstWorking
		if first == "" {
			first = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			l.ID, l.StartedAt.Format("2006-01-02 15:04:05"), l.BaseURL, l.TenantID,
			l.Successes, l.Partials, l.Transport, first)
	}
	return tw.Flush()
}

// printChanges prints the combinations whose outcome changed between runs.
func printChanges(w io.Writer, beforeID, afterID string, changes []state.Change) {
	if len(changes) == 0 {
		fmt.Fprintf(w, "No changes since run %s\n", beforeID)
		return
	}

	fmt.Fprintf(w, "%d change(s) from run %s to run %s:\n", len(changes), beforeID, afterID)
	for _, c := range changes {
		fmt.Fprintf(w, "  [%2d] %-24s #%d  %s (%d) -> %s (%d)\n",
			c.Index+1, c.Endpoint, c.PayloadIndex, c.Before, c.BeforeStatus, c.After, c.AfterStatus)
	}
}

// validationOutput is the JSON form of a validation result.
type validationOutput struct {
	URL        string  `json:"url"`
	StatusCode int     `json:"status_code"`
	Success    bool    `json:"success"`
	Valid      bool    `json:"valid"`
	Body       *string `json:"body"`
	Error      string  `json:"error,omitempty"`
}

func printValidationJSON(w io.Writer, v *probe.Validation, pretty bool) error {
	out := validationOutput{
		URL:        v.URL,
		StatusCode: v.StatusCode,
		Success:    v.Success,
		Valid:      v.Valid,
	}
	if v.Body != nil {
		body := string(v.Body)
		out.Body = &body
	}
	if v.Error != nil {
		out.Error = v.Error.Error()
	}
	return writeJSON(w, out, pretty)
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
