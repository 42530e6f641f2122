package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/exitcode"
	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/logging"
)

// ingestOutput is what `equipstat ingest` prints on success.
type ingestOutput struct {
	TotalEquipment int                `json:"total_equipment"`
	AvgFlowrate    float64            `json:"avg_flowrate"`
	AvgPressure    float64            `json:"avg_pressure"`
	AvgTemperature float64            `json:"avg_temperature"`
	EquipmentTypes []ingest.TypeCount `json:"equipment_types"`
	Records        []ingest.Record    `json:"equipment_records,omitempty"`
}

// ingestFailure is what `equipstat ingest` prints on an ingestion error.
type ingestFailure struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Code    string   `json:"code"`
	Missing []string `json:"missing_columns,omitempty"`
}

func newIngestCommand(opts *globalOptions, stdin io.Reader, stdout io.Writer) *cobra.Command {
	var (
		sizeLimit   int64
		withRecords bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file.csv | ->",
		Short: "Validate and summarize a CSV without storing it",
		Long: `Runs the upload pipeline on a local file ("-" reads stdin) and prints the
summary as JSON. Nothing is written to the database.

On an ingestion failure the error is printed as JSON and the exit code is
10 plus the failure kind: 11 file_too_large, 12 empty_file, 13 malformed_file,
14 missing_columns, 15 no_valid_data, 16 processing_error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, format := opts.logLevel, opts.logFormat
			if level == "" {
				level = "warn"
			}
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, format))

			data, err := readInput(args[0], stdin, sizeLimit)
			if err != nil {
				return exitWith(exitcode.UsageError, err)
			}

			res, err := ingest.Ingest(data, ingest.Options{SizeLimit: sizeLimit})
			if err != nil {
				fail := ingestFailure{
					Error: err.Error(),
					Kind:  ingest.KindOf(err).String(),
					Code:  core.MapError(err).Code,
				}
				var ie *ingest.Error
				if errors.As(err, &ie) {
					fail.Missing = ie.Missing
				}
				if werr := writeJSON(stdout, fail); werr != nil {
					return exitWith(exitcode.RuntimeError, werr)
				}
				return exitWith(exitcode.ForKind(ingest.KindOf(err)), err)
			}

			slog.Info("ingested file", "file", args[0], "records", res.RecordCount)

			out := ingestOutput{
				TotalEquipment: res.RecordCount,
				AvgFlowrate:    res.AverageFlowrate,
				AvgPressure:    res.AveragePressure,
				AvgTemperature: res.AverageTemperature,
				EquipmentTypes: res.TypeCounts(),
			}
			if withRecords {
				out.Records = res.Records
			}
			if err := writeJSON(stdout, out); err != nil {
				return exitWith(exitcode.RuntimeError, err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&sizeLimit, "max-size", ingest.DefaultSizeLimit, "Maximum accepted file size in bytes")
	f.BoolVar(&withRecords, "records", false, "Include the validated records in the output")
	return cmd
}

// readInput reads at most limit+1 bytes so an oversized file is still
// reported as file_too_large by the pipeline.
func readInput(path string, stdin io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = ingest.DefaultSizeLimit
	}

	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
