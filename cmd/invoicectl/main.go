// Command invoicectl runs invoice extraction from the command line, either
// in-process against local files or against a running invoiced.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/invoice-extractor/internal/app"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

var (
	cfgFile  string
	logLevel string

	// appOptions are applied to every in-process app; tests swap the recognizer here.
	appOptions []app.Option
)

var rootCmd = &cobra.Command{
	Use:           "invoicectl",
	Short:         "Extract structured invoice data from scanned documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `invoicectl runs the invoice extraction pipeline on local files, watches
directories for new documents, and talks to a running invoiced over gRPC.

Examples:
  invoicectl process ./invoices --out ./exports
  invoicectl watch ./inbox --out ./exports
  invoicectl ocr scan.pdf
  invoicectl remote status <task-id> --addr localhost:9090`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./invoice.yaml or /etc/invoice-extractor/invoice.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(processCmd, watchCmd, ocrCmd, dbhealthCmd, remoteCmd)
}

// setup loads configuration and installs the default logger. CLI logs go to
// stderr so stdout stays usable for output.
func setup() (*common.Config, *slog.Logger, error) {
	_ = godotenv.Load()
	cfg, err := common.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := common.NewLogger(os.Stderr, cfg.Log.Level, "text")
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
