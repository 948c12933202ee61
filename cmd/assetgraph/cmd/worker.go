package cmd

import (
	"github.com/spf13/cobra"

	"github.com/asset-graph/internal/analyzer"
)

var (
	workerTask   string
	workerResult string
)

// workerCmd is what the build re-executes for every shard.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Analyze one shard (started by build)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := analyzer.RunWorker(cmd.Context(), cfg, analyzer.WorkerOptions{
			TaskPath:   workerTask,
			ResultPath: workerResult,
			Logger:     logger.WithField("worker", workerTask),
		})
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerTask, "task", "", "Task file to analyze")
	workerCmd.Flags().StringVar(&workerResult, "result", "", "Result file to write")
	_ = workerCmd.MarkFlagRequired("task")
	_ = workerCmd.MarkFlagRequired("result")
}
