package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/logging"
)

// PreviewSummary counts the data rows of a previewed file.
type PreviewSummary struct {
	TotalRows   int `json:"total_rows"`
	ValidRows   int `json:"valid_rows"`
	SkippedRows int `json:"skipped_rows"`
}

// Preview is what an upload would store, computed without storing it.
type Preview struct {
	Summary          PreviewSummary     `json:"summary"`
	AvgFlowrate      float64            `json:"avg_flowrate"`
	AvgPressure      float64            `json:"avg_pressure"`
	AvgTemperature   float64            `json:"avg_temperature"`
	EquipmentTypes   []ingest.TypeCount `json:"equipment_types"`
	Samples          []ingest.Record    `json:"samples"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

const maxPreviewSamples = 10

// Preview runs the upload pipeline on data and reports the outcome without
// saving the file or creating a dataset. It shares the upload slots and
// returns the same errors UploadCSV would.
func (s *Service) Preview(ctx context.Context, fileName string, data []byte) (*Preview, error) {
	start := time.Now()

	if err := checkFileName(fileName); err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	res, err := ingest.Ingest(data, ingest.Options{
		SizeLimit: s.opts.SizeLimit,
		Columns:   s.opts.Columns,
	})
	if err != nil {
		logging.FromContext(ctx).Debug("preview rejected", "file_name", fileName, "kind", ingest.KindOf(err).String())
		return nil, err
	}

	samples := res.Records
	if len(samples) > maxPreviewSamples {
		samples = samples[:maxPreviewSamples]
	}

	return &Preview{
		Summary: PreviewSummary{
			TotalRows:   res.RecordCount + res.SkippedRows,
			ValidRows:   res.RecordCount,
			SkippedRows: res.SkippedRows,
		},
		AvgFlowrate:      res.AverageFlowrate,
		AvgPressure:      res.AveragePressure,
		AvgTemperature:   res.AverageTemperature,
		EquipmentTypes:   res.TypeCounts(),
		Samples:          samples,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}
