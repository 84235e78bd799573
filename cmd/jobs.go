package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verdant-group/greenwash-cli/internal/checkpoint"
	"github.com/verdant-group/greenwash-cli/internal/model"
)

var (
	jobsStage    string
	jobsCompany  string
	jobsArchived bool
	jobsLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List analysis jobs and their stages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := checkpoint.JobFilter{
			CompanyCode: jobsCompany,
			Archived:    jobsArchived,
			Limit:       jobsLimit,
		}
		if jobsStage != "" {
			stage, err := model.ParseStage(jobsStage)
			if err != nil {
				return eris.Wrapf(err, "bad --stage value %q", jobsStage)
			}
			filter.Stage = stage
		}

		jobs, err := store.ListJobs(ctx, filter)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs match")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tCOMPANY\tSTAGE\tARTIFACTS\tUPDATED\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.Key(), j.Company.Name, j.Stage, artifactSummary(j.Artifacts),
				j.UpdatedAt.Local().Format(time.DateTime),
				truncate(j.LastError, 60),
			)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStage, "stage", "", "only jobs at this stage")
	jobsCmd.Flags().StringVar(&jobsCompany, "company", "", "only jobs for this company code")
	jobsCmd.Flags().BoolVar(&jobsArchived, "archived", false, "show archived jobs instead of active ones")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "max jobs to list")
	rootCmd.AddCommand(jobsCmd)
}

// artifactSummary marks which stage outputs a job has accumulated, so the
// listing doubles as a resume-point audit.
func artifactSummary(a model.Artifacts) string {
	parts := make([]string, 0, 4)
	if a.DocumentRef != "" {
		parts = append(parts, "doc")
	}
	if len(a.Claims) > 0 {
		parts = append(parts, fmt.Sprintf("claims:%d", len(a.Claims)))
	}
	if len(a.Topics) > 0 {
		parts = append(parts, fmt.Sprintf("news:%d", len(a.Topics)))
	}
	if a.WordCloudRef != "" {
		parts = append(parts, "cloud")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
