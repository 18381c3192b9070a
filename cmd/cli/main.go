package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"neurodiff/internal"
	"neurodiff/internal/config"
	"neurodiff/internal/container"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "neurodiff",
		Short: "Differential expression between neuron populations from RNA-seq counts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			level, ok := internal.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			internal.DefaultLogger.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE (default from LOG_LEVEL)")

	rootCmd.AddCommand(
		newRunCmd(),
		newClassifyCmd(),
		newDECmd(),
		newEnrichCmd(),
		newSimulateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newContainer loads configuration and applies the design flags on top.
func newContainer(flags *designFlags) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags != nil {
		flags.apply(&cfg.Pipeline)
	}
	return container.New(cfg)
}
