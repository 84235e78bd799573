package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <company-code> <period>",
	Short: "Run a full analysis for one company and reporting period",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		companyCode, period := args[0], args[1]
		job, err := env.Orch.Start(ctx, companyCode, period)
		if err != nil {
			return err
		}
		key := job.Key()
		zap.L().Info("starting analysis",
			zap.String("job", key.String()),
			zap.String("stage", string(job.Stage)),
		)

		if _, err := env.Orch.Run(ctx, key); err != nil {
			return err
		}

		bundle, err := env.Orch.Bundle(ctx, key)
		if err != nil {
			return err
		}
		if bundle == nil {
			return fmt.Errorf("job %s finished without a committed assessment", key)
		}

		fmt.Printf("Assessment for %s (%s), period %s\n", bundle.Company.Name, bundle.Company.Code, bundle.Period)
		for _, c := range bundle.Claims {
			marker := " "
			if !c.Consistent {
				marker = "!"
			}
			fmt.Printf("  %s [%s] %-30s risk %d (evidence: %d)\n",
				marker, c.Category, c.Topic, c.FinalScore(), len(c.Evidence))
		}
		if bundle.WordCloudRef != "" {
			fmt.Printf("Word cloud: %s\n", bundle.WordCloudRef)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
