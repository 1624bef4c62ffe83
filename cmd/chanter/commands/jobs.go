package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chanterlabs/chanter/internal/history"
	"github.com/chanterlabs/chanter/internal/pricing"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent synthesis jobs",
	Long: `List recent synthesis jobs from the local history database.

Examples:
  chanter jobs
  chanter jobs --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, err := history.Open(ctx, cfg.History, cliLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		jobs, err := store.List(ctx, limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tSTATUS\tMODEL\tCHARS\tCHUNKS\tESTIMATE\tOUTPUT")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				job.Status,
				job.Model,
				job.Characters,
				job.Chunks,
				pricing.FormatUSD(job.EstimatedUSD),
				job.OutputPath,
			)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
}
