package cli

import (
	"errors"

	"github.com/absmach/fedsim/pkg/checkpoint"
	"github.com/spf13/cobra"
)

var errListExperiments = errors.New("listing experiments needs the file backend; pass an experiment id")

func NewCheckpointsCmd() *cobra.Command {
	var backend, dir string

	cmd := &cobra.Command{
		Use:   "checkpoints [list]",
		Short: "Checkpoints management",
		Long:  `Inspect the checkpoints saved by experiment runs.`,
	}

	listCmd := &cobra.Command{
		Use:   "list [experiment_id]",
		Short: "List checkpoints",
		Long: `List the experiments with checkpoints, or the checkpointed rounds of one experiment.

Examples:
  fedsim checkpoints list --dir ./checkpoints
  fedsim checkpoints list brave-turing --dir ./checkpoints --backend badger`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 1 || dir == "" {
				logUsageCmd(*cmd, "checkpoints list [experiment_id] --dir <dir>")

				return
			}

			store, err := checkpoint.Open(backend, dir)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			defer store.Close()

			if len(args) == 0 {
				fs, ok := store.(*checkpoint.FileStore)
				if !ok {
					logErrorCmd(*cmd, errListExperiments)

					return
				}
				ids, err := fs.Experiments()
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				logJSONCmd(*cmd, map[string]any{"experiments": ids})

				return
			}

			rounds, err := store.Rounds(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, map[string]any{"experiment_id": args[0], "rounds": rounds})
		},
	}

	listCmd.Flags().StringVar(&backend, "backend", checkpoint.BackendFile, "Checkpoint backend (file or badger)")
	listCmd.Flags().StringVar(&dir, "dir", "", "Checkpoint directory")

	cmd.AddCommand(listCmd)

	return cmd
}
