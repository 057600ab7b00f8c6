// Package main provides docflowctl, the offline companion of the wizard
// service: table extraction from generator output and resumable batch
// conversion of HTML documents.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docflow/docflow-backend/pkg/logger"
)

const cliName = "docflowctl"

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           cliName,
		Short:         "DocFlow command line tools",
		Long:          "docflowctl converts HTML specifications to Markdown and extracts test case tables without running the wizard service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	root.AddCommand(newExtractCSVCmd())
	root.AddCommand(newConvertCmd(&verbose))
	return root
}

// cliLogger writes human readable logs to stderr when verbose is set
func cliLogger(w io.Writer, verbose bool) *logger.Logger {
	if !verbose {
		return logger.Nop()
	}
	return logger.NewWithWriter(cliName, zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen})
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
