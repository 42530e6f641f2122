package core

// scheduler.go runs the orphan-file sweeper. A stored file becomes an orphan
// when its dataset row is deleted but the file delete that follows fails.
// The sweeper lists stored files, keeps those any dataset references or that
// are younger than the grace period, and deletes the rest. It logs failures
// and keeps running.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StartSweeper sweeps immediately and then every interval until ctx ends.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	slog.Info("orphan sweeper started",
		"interval", interval.String(),
		"grace", s.opts.SweepGrace.String(),
	)

	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Service) runSweep(ctx context.Context) {
	start := time.Now()
	res, err := s.SweepOrphans(ctx, start)
	if err != nil {
		slog.Error("orphan sweep failed", "error", err)
		return
	}
	slog.Info("orphan sweep completed",
		"files_scanned", res.Scanned,
		"files_deleted", res.Deleted,
		"files_failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SweepOrphans deletes stored files that no dataset references and that
// were last modified before now minus the grace period.
func (s *Service) SweepOrphans(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	objs, err := s.files.List()
	if err != nil {
		return res, fmt.Errorf("list stored files: %w", err)
	}
	res.Scanned = len(objs)

	keys, err := s.datasets.ListFileKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("list file keys: %w", err)
	}
	referenced := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		referenced[k] = struct{}{}
	}

	cutoff := now.Add(-s.opts.SweepGrace)
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := referenced[obj.Key]; ok || obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.files.Delete(obj.Key); err != nil {
			res.Failed++
			slog.Warn("delete orphan failed", "file_key", obj.Key, "error", err)
			continue
		}
		res.Deleted++
	}

	s.metrics.ObserveSwept(res.Deleted)
	return res, nil
}
