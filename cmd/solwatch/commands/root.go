package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/config"
	libtelemetry "solwatch/lib/telemetry"
	"solwatch/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "The json5 or yaml config file, a missing file means defaults.")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "A dotenv file to load before reading the environment.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug reports.")
}

var rootCmd = &cobra.Command{
	Use:           "solwatch",
	Short:         "solwatch polls a solscan or cabalspy page and posts new activity to discord.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)
		err := config.LoadDotenv(envFile)
		if err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

// ExecuteContext runs the command line, a failing command exits the process
// with serviceutil.ExitCode.
func ExecuteContext(ctx context.Context) {
	otel, err := libtelemetry.SetupFromEnv(ctx, "solwatch")
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
	}

	err = rootCmd.ExecuteContext(ctx)
	otel.Shutdown(context.Background())
	if err != nil {
		serviceutil.Fatal(fmt.Sprintf("solwatch %s", commandName(os.Args)), err)
	}
}

func commandName(args []string) string {
	cmd, _, err := rootCmd.Find(args[1:])
	if err != nil {
		return "failed"
	}
	return cmd.Name() + " failed"
}
