package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/equipstat/internal/filestore"
	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/metrics"
	"github.com/JonMunkholm/equipstat/internal/report"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// Service provides the dataset operations.
type Service struct {
	datasets DatasetStore
	files    FileStore
	limiter  *UploadLimiter
	metrics  *metrics.Metrics
	opts     Options
}

// NewService wires a Service. A nil limiter gets the defaults; a nil
// metrics set disables instrumentation.
func NewService(datasets DatasetStore, files FileStore, limiter *UploadLimiter, m *metrics.Metrics, opts Options) *Service {
	if limiter == nil {
		limiter = NewUploadLimiter(0, 0)
	}
	return &Service{
		datasets: datasets,
		files:    files,
		limiter:  limiter,
		metrics:  m,
		opts:     opts.withDefaults(),
	}
}

// Limiter exposes the upload limiter for health reporting and shutdown.
func (s *Service) Limiter() *UploadLimiter {
	return s.limiter
}

// SizeLimit is the largest accepted upload in bytes.
func (s *Service) SizeLimit() int64 {
	return s.opts.SizeLimit
}

// History returns the owner's most recent datasets, newest first.
func (s *Service) History(ctx context.Context, owner int64) ([]store.Dataset, error) {
	out, err := s.datasets.ListDatasets(ctx, owner, s.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return out, nil
}

// Dataset loads one of the owner's datasets with its records.
func (s *Service) Dataset(ctx context.Context, owner, id int64) (*store.Dataset, error) {
	d, err := s.datasets.GetDataset(ctx, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset %d: %w", id, err)
	}
	return d, nil
}

// Summary returns the dataset with chart data ordered like TypeCounts.
func (s *Service) Summary(ctx context.Context, owner, id int64) (*Summary, error) {
	d, err := s.Dataset(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &Summary{Dataset: d, Chart: chartData(d.EquipmentTypes)}, nil
}

func chartData(dist map[string]int) ChartData {
	counts := ingest.SortedTypeCounts(dist)
	c := ChartData{
		Labels: make([]string, len(counts)),
		Values: make([]int, len(counts)),
	}
	for i, tc := range counts {
		c.Labels[i] = tc.Type
		c.Values[i] = tc.Count
	}
	return c
}

// Report renders the dataset as a PDF into w. Nothing is written to w
// unless rendering succeeds.
func (s *Service) Report(ctx context.Context, owner, id int64, w io.Writer) error {
	d, err := s.Dataset(ctx, owner, id)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.WritePDF(&buf, d); err != nil {
		logging.WithFields(ctx, "dataset_id", id).Error("render report failed", "error", err)
		return fmt.Errorf("render report: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// Export writes the dataset's records to w in format.
func (s *Service) Export(ctx context.Context, owner, id int64, format report.Format, w io.Writer) error {
	if format != report.FormatCSV && format != report.FormatParquet {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	d, err := s.Dataset(ctx, owner, id)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.Export(&buf, d, format); err != nil {
		return fmt.Errorf("export %s: %w", format, err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// Source opens the raw file the dataset was uploaded from. The caller
// closes it.
func (s *Service) Source(ctx context.Context, owner, id int64) (*store.Dataset, io.ReadCloser, error) {
	d, err := s.Dataset(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.files.Open(d.FileKey)
	if errors.Is(err, filestore.ErrNotFound) {
		return nil, nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open source: %w", err)
	}
	return d, rc, nil
}
