package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/equipstat/internal/ingest"
)

// Owner is the public view of a dataset's user.
type Owner struct {
	ID       int64
	Username string
	Email    string
}

// Dataset is one persisted upload and its summary statistics.
// Records is populated only by GetDataset.
type Dataset struct {
	ID             int64
	Owner          Owner
	UploadedAt     time.Time
	FileName       string
	FileKey        string
	TotalEquipment int
	AvgFlowrate    float64
	AvgPressure    float64
	AvgTemperature float64
	EquipmentTypes map[string]int
	Records        []ingest.Record
}

// NewDataset is the input to CreateDataset.
type NewDataset struct {
	UserID   int64
	FileName string
	FileKey  string
	Result   *ingest.Result
}

// Evicted identifies a dataset removed by retention.
type Evicted struct {
	ID      int64
	FileKey string
}

const datasetColumns = `
	d.id, d.uploaded_at, d.file_name, d.file_key, d.total_equipment,
	d.avg_flowrate, d.avg_pressure, d.avg_temperature, d.equipment_types,
	u.id, u.username, u.email`

func scanDataset(row interface{ Scan(...any) error }) (*Dataset, error) {
	var d Dataset
	err := row.Scan(
		&d.ID, &d.UploadedAt, &d.FileName, &d.FileKey, &d.TotalEquipment,
		&d.AvgFlowrate, &d.AvgPressure, &d.AvgTemperature, &d.EquipmentTypes,
		&d.Owner.ID, &d.Owner.Username, &d.Owner.Email,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if d.EquipmentTypes == nil {
		d.EquipmentTypes = map[string]int{}
	}
	return &d, nil
}

// CreateDataset stores a dataset and its records in one transaction, then
// trims the owner's history to the keep newest datasets (by upload time,
// then id). The evicted datasets are returned so the caller can remove
// their stored files. keep <= 0 disables trimming.
//
// Concurrent creates for the same owner are serialized on the owner row,
// so retention never observes a half-written history. uploaded_at is taken
// once the lock is held, so it follows commit order rather than the
// start of the transaction.
func (s *Store) CreateDataset(ctx context.Context, in NewDataset, keep int) (*Dataset, []Evicted, error) {
	if in.Result == nil {
		return nil, nil, fmt.Errorf("create dataset: nil result")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d := &Dataset{
		FileName:       in.FileName,
		FileKey:        in.FileKey,
		TotalEquipment: in.Result.RecordCount,
		AvgFlowrate:    in.Result.AverageFlowrate,
		AvgPressure:    in.Result.AveragePressure,
		AvgTemperature: in.Result.AverageTemperature,
		EquipmentTypes: in.Result.TypeDistribution,
		Records:        in.Result.Records,
	}

	err = tx.QueryRow(ctx,
		`SELECT id, username, email FROM users WHERE id = $1 FOR UPDATE`,
		in.UserID,
	).Scan(&d.Owner.ID, &d.Owner.Username, &d.Owner.Email)
	if err != nil {
		return nil, nil, fmt.Errorf("lock owner %d: %w", in.UserID, mapError(err))
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO datasets (
			user_id, file_name, file_key, total_equipment,
			avg_flowrate, avg_pressure, avg_temperature, equipment_types,
			uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, clock_timestamp())
		RETURNING id, uploaded_at`,
		in.UserID, d.FileName, d.FileKey, d.TotalEquipment,
		d.AvgFlowrate, d.AvgPressure, d.AvgTemperature, d.EquipmentTypes,
	).Scan(&d.ID, &d.UploadedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert dataset: %w", mapError(err))
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"equipment_records"},
		recordCopyColumns,
		newRecordSource(d.ID, d.Records),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("copy records: %w", err)
	}
	if int(copied) != len(d.Records) {
		return nil, nil, fmt.Errorf("copy records: wrote %d of %d", copied, len(d.Records))
	}

	var evicted []Evicted
	if keep > 0 {
		evicted, err = trimHistory(ctx, tx, in.UserID, keep)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	return d, evicted, nil
}

// trimHistory deletes every dataset of userID beyond the keep newest.
func trimHistory(ctx context.Context, db DBTX, userID int64, keep int) ([]Evicted, error) {
	rows, err := db.Query(ctx, `
		DELETE FROM datasets
		WHERE id IN (
			SELECT id FROM datasets
			WHERE user_id = $1
			ORDER BY uploaded_at DESC, id DESC
			OFFSET $2
		)
		RETURNING id, file_key`,
		userID, keep)
	if err != nil {
		return nil, fmt.Errorf("trim history: %w", err)
	}

	evicted, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Evicted, error) {
		var e Evicted
		err := row.Scan(&e.ID, &e.FileKey)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("trim history: %w", err)
	}
	return evicted, nil
}

// ListDatasets returns the owner's datasets, newest first, without records.
func (s *Store) ListDatasets(ctx context.Context, userID int64, limit int) ([]Dataset, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets d
		JOIN users u ON u.id = d.user_id
		WHERE d.user_id = $1
		ORDER BY d.uploaded_at DESC, d.id DESC
		LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Dataset, error) {
		d, err := scanDataset(row)
		if err != nil {
			return Dataset{}, err
		}
		return *d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return out, nil
}

// GetDataset returns one of the owner's datasets with its records ordered
// by equipment name, then insertion order. A dataset owned by someone
// else is reported as ErrNotFound.
func (s *Store) GetDataset(ctx context.Context, userID, id int64) (*Dataset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+datasetColumns+`
		FROM datasets d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1 AND d.user_id = $2`,
		id, userID)

	d, err := scanDataset(row)
	if err != nil {
		return nil, fmt.Errorf("get dataset %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT equipment_name, equipment_type, flowrate, pressure, temperature
		FROM equipment_records
		WHERE dataset_id = $1
		ORDER BY equipment_name, id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get dataset %d records: %w", id, err)
	}

	d.Records, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ingest.Record, error) {
		var r ingest.Record
		err := row.Scan(&r.Name, &r.Type, &r.Flowrate, &r.Pressure, &r.Temperature)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("get dataset %d records: %w", id, err)
	}
	return d, nil
}

// DeleteDataset removes one of the owner's datasets (records cascade) and
// returns its stored file key.
func (s *Store) DeleteDataset(ctx context.Context, userID, id int64) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM datasets WHERE id = $1 AND user_id = $2 RETURNING file_key`,
		id, userID,
	).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("delete dataset %d: %w", id, mapError(err))
	}
	return key, nil
}

// ListFileKeys returns the stored file key of every dataset.
func (s *Store) ListFileKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT file_key FROM datasets`)
	if err != nil {
		return nil, fmt.Errorf("list file keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list file keys: %w", err)
	}
	return keys, nil
}
