package cli

import (
	"os"
	"strconv"

	"github.com/absmach/fedsim/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

var experimentsCmd = []cobra.Command{
	{
		Use:   "create <config.toml>",
		Short: "Create experiment",
		Long: `Create an experiment from a TOML file without running it.

Examples:
  fedsim experiments create emnist.toml`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			exp, err := fsdk.CreateExperimentTOML(data)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, exp)
		},
	},
	{
		Use:   "view <id>",
		Short: "View experiment",
		Long:  `View experiment status and configuration.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := fsdk.GetExperiment(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, exp)
		},
	},
	{
		Use:   "list [offset] [limit]",
		Short: "List experiments",
		Long:  `List experiments.`,
		Run: func(cmd *cobra.Command, args []string) {
			offset, limit, err := pageArgs(args)
			if err != nil {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListExperiments(offset, limit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	},
	{
		Use:   "run <id>",
		Short: "Run experiment",
		Long:  `Start training an experiment on the server.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := fsdk.RunExperiment(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, exp)
		},
	},
	{
		Use:   "stop <id>",
		Short: "Stop experiment",
		Long:  `Stop a running experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.StopExperiment(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	},
	{
		Use:   "rounds <id> [offset] [limit]",
		Short: "List rounds",
		Long:  `List the recorded round metrics of an experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			offset, limit, err := pageArgs(args[1:])
			if err != nil {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListRounds(args[0], offset, limit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	},
}

func NewExperimentsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "experiments [create|view|list|run|stop|rounds]",
		Short: "Experiments management",
		Long:  `Create, view, list, run and stop experiments on a fedsim server.`,
	}

	for i := range experimentsCmd {
		cmd.AddCommand(&experimentsCmd[i])
	}

	return &cmd
}

func pageArgs(args []string) (offset, limit uint64, err error) {
	offset, limit = defOffset, defLimit
	switch len(args) {
	case 0:
	case 2:
		if limit, err = strconv.ParseUint(args[1], 10, 64); err != nil {
			return 0, 0, err
		}
		fallthrough
	case 1:
		if offset, err = strconv.ParseUint(args[0], 10, 64); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, strconv.ErrSyntax
	}

	return offset, limit, nil
}
