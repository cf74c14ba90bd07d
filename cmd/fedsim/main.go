package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/fedsim/cli"
	"github.com/absmach/fedsim/pkg/sdk"
	"github.com/spf13/cobra"
)

const (
	defServiceURL      = "http://localhost:9090"
	defTLSVerification = false
)

func main() {
	var (
		serviceURL string
		tlsVerify  bool
		logLevel   string
	)

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rootCmd := &cobra.Command{
		Use:   "fedsim",
		Short: "Federated learning simulator",
		Long:  `fedsim simulates federated averaging over EMNIST-style client populations, locally or as a service.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return err
			}
			cli.SetSDK(sdk.NewSDK(sdk.Config{
				ServiceURL:      serviceURL,
				TLSVerification: tlsVerify,
			}))

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&serviceURL, "service-url", "u", defServiceURL, "fedsim service URL")
	rootCmd.PersistentFlags().BoolVar(&tlsVerify, "tls-verification", defTLSVerification, "Verify the service TLS certificate")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "Log level of local commands")

	rootCmd.AddCommand(
		cli.NewRunCmd(logger),
		cli.NewExperimentsCmd(),
		cli.NewCheckpointsCmd(),
		cli.NewEventsCmd(logger),
		newServeCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
