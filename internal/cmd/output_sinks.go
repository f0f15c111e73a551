package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cadencectl/cadence/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

// addOutputFlags registers --output-format and --out on a reporting
// command.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output-format", "o", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// render formats a report with the command's output flags and writes it
// to the selected sink.
func render(cmd *cobra.Command, fn func(output.Formatter) (string, error)) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	text, err := fn(output.NewFormatter(format))
	if err != nil {
		return err
	}

	sink, err := openSink(outPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, text)
	return err
}

func openSink(path string, stdout io.Writer) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: stdout, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}
