package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tribuna/internal/catalog"
	"github.com/ppiankov/tribuna/internal/model"
)

// statusCmd lists the corpus catalog
var statusCmd = &cobra.Command{
	Use:   "status [debate]",
	Short: "List the corpus catalog",
	Long: `Status prints the latest outcome of every debate stage recorded in the
catalog, the last run, and diagnostic totals. With a debate ID it also
prints that debate's layer accounting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer func() { _ = cat.Close() }()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		last, err := cat.LastRun(ctx)
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Fprintf(out, "No runs recorded in %s\n", cfg.Catalog.Path)
			return nil
		}
		fmt.Fprintf(out, "Last run: %s (%s) %s, %d ok, %d failed\n\n",
			last.ID, last.Command, last.StartedAt.Local().Format(time.DateTime), last.Succeeded, last.Failed)

		debates, err := cat.Debates(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DEBATE\tSTAGE\tSTATUS\tSENTENCES\tDIAGNOSTICS\tDURATION\tERROR")
		for _, d := range debates {
			if len(args) == 1 && d.Debate != args[0] {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%v\t%s\n",
				d.Debate, d.Stage, d.Status, d.Sentences, d.Diagnostics, d.Duration.Round(time.Millisecond), d.Error)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if len(args) == 1 {
			stats, err := cat.LayerStats(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LAYER\tINPUT\tPLACED\tSKIPPED\tUNANCHORED")
			for _, k := range sortedKinds(stats) {
				s := stats[k]
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", k, s.Input, s.Placed, s.Skipped, s.Unanchored)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		counts, err := cat.DiagnosticCounts(ctx)
		if err != nil {
			return err
		}
		if len(counts) > 0 {
			fmt.Fprintln(out, "\nDiagnostics:")
			codes := make([]string, 0, len(counts))
			for c := range counts {
				codes = append(codes, string(c))
			}
			sort.Strings(codes)
			for _, c := range codes {
				fmt.Fprintf(out, "  %-24s %d\n", c, counts[model.DiagnosticCode(c)])
			}
		}
		return nil
	},
}

func sortedKinds(stats map[model.Kind]model.LayerStats) []model.Kind {
	kinds := make([]model.Kind, 0, len(stats))
	for k := range stats {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
