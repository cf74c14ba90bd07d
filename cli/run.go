package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedsim"
	"github.com/absmach/fedsim/experiment"
	"github.com/absmach/fedsim/pkg/learning"
	"github.com/spf13/cobra"
)

// NewRunCmd trains an experiment in process and prints every round.
func NewRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		id         string
		resume     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run experiment locally",
		Long: `Train an experiment in this process and print the metrics of every round.

Examples:
  # Train on synthetic EMNIST
  fedsim run --config emnist.toml

  # Continue from the latest checkpoint of an earlier run
  fedsim run --config emnist.toml --id brave-turing --resume`,
		Run: func(cmd *cobra.Command, _ []string) {
			if configPath == "" {
				logUsageCmd(*cmd, "run --config <config.toml>")

				return
			}
			cfg, err := fedsim.LoadConfig(configPath)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if resume {
				cfg.Checkpoint.Resume = true
			}
			if id == "" {
				id = cfg.Experiment.Name
			}
			if id == "" {
				id = namegenerator.NewGenerator().Generate()
			}

			if err := runLocal(cmd.Context(), cmd, cfg, id, logger); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Experiment TOML file")
	cmd.Flags().StringVar(&id, "id", "", "Experiment id used for checkpoints (defaults to the experiment name)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the latest checkpoint")

	return cmd
}

func runLocal(ctx context.Context, cmd *cobra.Command, cfg fedsim.Config, id string, logger *slog.Logger) (err error) {
	runner, err := experiment.NewRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, runner.Close(context.Background()))
	}()

	state, err := runner.Start(ctx, id)
	if err != nil {
		return err
	}

	_, err = runner.Loop(ctx, id, state, func(_ context.Context, _ learning.State, round fedsim.Round) error {
		logJSONCmd(*cmd, round)

		return nil
	})

	return err
}
