package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docflow/docflow-backend/internal/wizard/generator"
	"github.com/docflow/docflow-backend/internal/wizard/tablecsv"
)

func newExtractCSVCmd() *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "extract-csv [file]",
		Short: "Extract the test case table from a generator response",
		Long: "Reads a generator response (JSON envelope, Markdown or CSV) from a file or stdin " +
			"and writes the table it contains as CSV or Excel.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtractCSV(cmd, args, strings.ToLower(format), out)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout, required for xlsx)")
	return cmd
}

func runExtractCSV(cmd *cobra.Command, args []string, format, out string) error {
	if format != "csv" && format != "xlsx" {
		return fmt.Errorf("unsupported format %q: must be csv or xlsx", format)
	}
	if format == "xlsx" && out == "" {
		return fmt.Errorf("--out is required for xlsx output")
	}

	var body []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		body, err = io.ReadAll(cmd.InOrStdin())
	} else {
		body, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	csv := generator.Decode(body)

	var data []byte
	if format == "csv" {
		data = []byte(csv)
	} else {
		if csv == tablecsv.NoTableMessage || csv == generator.PlaceholderCSV {
			return fmt.Errorf("input contains no table")
		}
		sheet := strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
		data, err = tablecsv.ToXLSX(csv, sheet)
		if err != nil {
			return err
		}
	}

	if out == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
	return nil
}
