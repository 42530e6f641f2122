package store

import (
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/equipstat/internal/ingest"
)

var recordCopyColumns = []string{
	"dataset_id",
	"equipment_name",
	"equipment_type",
	"flowrate",
	"pressure",
	"temperature",
}

// recordSource implements pgx.CopyFromSource over a dataset's records.
type recordSource struct {
	datasetID int64
	records   []ingest.Record
	pos       int
}

func newRecordSource(datasetID int64, records []ingest.Record) *recordSource {
	return &recordSource{datasetID: datasetID, records: records, pos: -1}
}

func (s *recordSource) Next() bool {
	s.pos++
	return s.pos < len(s.records)
}

// Values returns the current record in recordCopyColumns order.
func (s *recordSource) Values() ([]any, error) {
	r := s.records[s.pos]
	return []any{s.datasetID, r.Name, r.Type, r.Flowrate, r.Pressure, r.Temperature}, nil
}

func (s *recordSource) Err() error {
	return nil
}

var _ pgx.CopyFromSource = (*recordSource)(nil)
