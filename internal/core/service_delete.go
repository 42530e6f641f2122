package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// Delete removes the owner's dataset and then its stored file. A failed
// file delete is logged and left for the sweeper.
func (s *Service) Delete(ctx context.Context, owner, id int64) error {
	key, err := s.datasets.DeleteDataset(ctx, owner, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrDatasetNotFound
	}
	if err != nil {
		return fmt.Errorf("delete dataset %d: %w", id, err)
	}

	s.removeFiles(ctx, key)
	logging.WithFields(ctx, "user_id", owner, "dataset_id", id).Info("dataset deleted")
	return nil
}

// removeFiles deletes stored files, logging failures.
func (s *Service) removeFiles(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.files.Delete(key); err != nil {
			logging.FromContext(ctx).Warn("delete stored file failed", "file_key", key, "error", err)
		}
	}
}
