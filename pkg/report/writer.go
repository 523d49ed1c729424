package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tidwall/pretty"

	"github.com/fibswing-backtest/pkg/backtest"
)

// Output file names
const (
	TradesFile      = "trades.csv"
	EquityFile      = "equity.csv"
	SummaryFile     = "summary.json"
	MonthlyFile     = "monthly_stats.json"
	DiagnosticsFile = "diagnostics.md"
	ManifestFile    = "manifest.json"
)

// WriteAll writes every output of res into dir. Files are rendered into a
// staging directory next to dir and moved into place only when all of them
// were written, so a failure leaves dir untouched.
func WriteAll(dir string, res *backtest.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(filepath.Clean(dir)), ".fibswing-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{TradesFile, func(w io.Writer) error { return WriteTrades(w, res.Trades) }},
		{EquityFile, func(w io.Writer) error { return WriteEquity(w, res.Equity) }},
		{SummaryFile, func(w io.Writer) error { return WriteJSON(w, res.Summary) }},
		{MonthlyFile, func(w io.Writer) error { return WriteJSON(w, res.Monthly) }},
		{DiagnosticsFile, func(w io.Writer) error { return WriteDiagnostics(w, res) }},
		{ManifestFile, func(w io.Writer) error { return WriteJSON(w, res.Manifest) }},
	}

	for _, out := range writers {
		if err := writeFile(filepath.Join(staging, out.name), out.write); err != nil {
			return fmt.Errorf("failed to write %s: %w", out.name, err)
		}
	}

	for _, out := range writers {
		if err := os.Rename(filepath.Join(staging, out.name), filepath.Join(dir, out.name)); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", out.name, err)
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}
