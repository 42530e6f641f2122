package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts a format name case-insensitively. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want csv or parquet)", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

// FileName is the download name of dataset id exported as f.
func (f Format) FileName(id int64) string {
	return fmt.Sprintf("equipment_dataset_%d.%s", id, f)
}

// Export writes the dataset's records in format f.
func Export(w io.Writer, d *store.Dataset, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, d.Records)
	case FormatParquet:
		return WriteParquet(w, d.Records)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// WriteCSV writes records with the canonical header, so the output
// re-ingests to the same records.
func WriteCSV(w io.Writer, records []ingest.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ingest.DefaultColumns.List()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		err := cw.Write([]string{
			r.Name,
			r.Type,
			strconv.FormatFloat(r.Flowrate, 'f', -1, 64),
			strconv.FormatFloat(r.Pressure, 'f', -1, 64),
			strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		})
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// parquetRecord is the Parquet row layout of an equipment record.
type parquetRecord struct {
	EquipmentName string  `parquet:"equipment_name"`
	EquipmentType string  `parquet:"equipment_type,dict"`
	Flowrate      float64 `parquet:"flowrate"`
	Pressure      float64 `parquet:"pressure"`
	Temperature   float64 `parquet:"temperature"`
}

// WriteParquet writes records as a single Parquet file.
func WriteParquet(w io.Writer, records []ingest.Record) error {
	rows := make([]parquetRecord, len(records))
	for i, r := range records {
		rows[i] = parquetRecord{
			EquipmentName: r.Name,
			EquipmentType: r.Type,
			Flowrate:      r.Flowrate,
			Pressure:      r.Pressure,
			Temperature:   r.Temperature,
		}
	}

	pw := parquet.NewGenericWriter[parquetRecord](w)
	if _, err := pw.Write(rows); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
