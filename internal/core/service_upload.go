package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/metrics"
	"github.com/JonMunkholm/equipstat/internal/store"
)

const (
	outcomeBusy    = "busy"
	outcomeInvalid = "invalid_request"
	outcomeError   = "error"
)

// IsCSVName reports whether name has a .csv extension (any case).
func IsCSVName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// checkFileName rejects a missing or non-CSV upload name.
func checkFileName(name string) error {
	if name == "" {
		return ErrNoFile
	}
	if !IsCSVName(name) {
		return ErrNotCSV
	}
	return nil
}

// UploadCSV ingests data as a new dataset for owner. Ingestion failures are
// returned as *ingest.Error; nothing is stored unless the whole upload
// succeeds.
func (s *Service) UploadCSV(ctx context.Context, owner int64, fileName string, data []byte) (*store.Dataset, error) {
	start := time.Now()
	log := logging.WithFields(ctx, "user_id", owner, "file_name", fileName, "bytes", len(data))

	if err := checkFileName(fileName); err != nil {
		s.metrics.ObserveUpload(outcomeInvalid, 0, 0)
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		s.metrics.ObserveUpload(outcomeBusy, 0, 0)
		log.Warn("upload slot unavailable", "error", err)
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()

	res, err := ingest.Ingest(data, ingest.Options{
		SizeLimit: s.opts.SizeLimit,
		Columns:   s.opts.Columns,
	})
	if err != nil {
		kind := ingest.KindOf(err)
		s.metrics.ObserveUpload(kind.String(), 0, 0)
		log.Info("upload rejected", "kind", kind.String(), "error", err)
		return nil, err
	}

	key, err := s.files.Save(data, ".csv")
	if err != nil {
		s.metrics.ObserveUpload(outcomeError, 0, 0)
		log.Error("store upload failed", "error", err)
		return nil, fmt.Errorf("store upload: %w", err)
	}

	d, evicted, err := s.datasets.CreateDataset(ctx, store.NewDataset{
		UserID:   owner,
		FileName: filepath.Base(fileName),
		FileKey:  key,
		Result:   res,
	}, s.opts.RetainPerUser)
	if err != nil {
		s.removeFiles(ctx, key)
		s.metrics.ObserveUpload(outcomeError, 0, 0)
		log.Error("persist dataset failed", "error", err)
		return nil, fmt.Errorf("save dataset: %w", err)
	}

	keys := make([]string, len(evicted))
	for i, e := range evicted {
		keys[i] = e.FileKey
	}
	s.removeFiles(ctx, keys...)
	s.metrics.ObserveEvictions(len(evicted))

	elapsed := time.Since(start)
	s.metrics.ObserveUpload(metrics.OutcomeSuccess, d.TotalEquipment, elapsed)
	log.Info("upload stored",
		"dataset_id", d.ID,
		"records", d.TotalEquipment,
		"evicted", len(evicted),
		"duration_ms", elapsed.Milliseconds(),
	)
	return d, nil
}
