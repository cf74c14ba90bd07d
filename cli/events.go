package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/fedsim/pkg/events"
	"github.com/absmach/fedsim/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func NewEventsCmd(logger *slog.Logger) *cobra.Command {
	cfg := mqtt.Config{QoS: 1}
	prefix := events.DefaultTopicPrefix

	cmd := &cobra.Command{
		Use:   "events [watch]",
		Short: "Experiment events",
		Long:  `Follow experiment lifecycle and round events published over MQTT.`,
	}

	watchCmd := &cobra.Command{
		Use:   "watch [experiment_id]",
		Short: "Watch events",
		Long: `Print experiment events as they arrive until interrupted.

Examples:
  # Every experiment
  fedsim events watch --mqtt-address tcp://localhost:1883

  # One experiment
  fedsim events watch brave-turing`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			cfg.ClientID = "fedsim-watch-" + uuid.NewString()

			if err := watch(cmd.Context(), cmd, cfg, prefix, id, logger); err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}

	watchCmd.Flags().StringVar(&cfg.URL, "mqtt-address", "tcp://localhost:1883", "MQTT broker address")
	watchCmd.Flags().StringVar(&cfg.Username, "mqtt-username", "", "MQTT username")
	watchCmd.Flags().StringVar(&cfg.Password, "mqtt-password", "", "MQTT password")
	watchCmd.Flags().DurationVar(&cfg.Timeout, "mqtt-timeout", 30*time.Second, "MQTT operation timeout")
	watchCmd.Flags().StringVar(&prefix, "topic-prefix", events.DefaultTopicPrefix, "Topic prefix events are published under")

	cmd.AddCommand(watchCmd)

	return cmd
}

func watch(ctx context.Context, cmd *cobra.Command, cfg mqtt.Config, prefix, id string, logger *slog.Logger) error {
	ps, err := mqtt.NewPubSub(cfg, logger)
	if err != nil {
		return err
	}

	topic, err := events.Watch(ctx, ps, prefix, id, func(ev events.Event) error {
		logJSONCmd(*cmd, ev)

		return nil
	})
	if err != nil {
		return errors.Join(err, ps.Disconnect(context.Background()))
	}

	<-ctx.Done()

	return errors.Join(
		ps.Unsubscribe(context.Background(), topic),
		ps.Disconnect(context.Background()),
	)
}
