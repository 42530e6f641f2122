// Package ingest turns an uploaded equipment-parameter CSV into validated
// records and summary statistics.
//
// Ingestion runs in fixed stages:
//
//  1. Size check against the configured limit, before any parsing.
//  2. Structural parse of a delimited table with a header row.
//  3. Header resolution: the five logical fields are matched
//     case-insensitively after trimming; extra columns are ignored.
//  4. Row filtering: rows with a blank logical cell, or a measurement
//     that does not parse as a finite decimal number, are dropped silently.
//  5. Aggregation: rounded averages, a per-type count, and the records
//     sorted by name.
//
// The package performs no I/O beyond reading the supplied input and keeps
// no state between calls, so concurrent calls need no coordination.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// DefaultSizeLimit is the upload size limit applied when Options.SizeLimit
// is not set (10 MiB).
const DefaultSizeLimit int64 = 10 * 1024 * 1024

// Options configures a single ingestion.
type Options struct {
	// SizeLimit is the maximum accepted input length in bytes.
	SizeLimit int64

	// Columns overrides the logical field names.
	Columns Columns
}

func (o Options) withDefaults() Options {
	if o.SizeLimit <= 0 {
		o.SizeLimit = DefaultSizeLimit
	}
	if o.Columns.isZero() {
		o.Columns = DefaultColumns
	}
	return o
}

// Ingest validates and aggregates a CSV held in memory.
// On failure the returned error is an *Error.
func Ingest(raw []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	if size := int64(len(raw)); size > opts.SizeLimit {
		return nil, errFileTooLarge(size, opts.SizeLimit)
	}

	header, rows, err := parseTable(sanitizeUTF8(stripBOM(raw)))
	if err != nil {
		return nil, err
	}

	idx, missing := ResolveColumns(header, opts.Columns)
	if len(missing) > 0 {
		return nil, errMissingColumns(missing)
	}
	cm := idx.columnMap(opts.Columns)

	var (
		records  []Record
		complete int
	)
	for _, row := range rows {
		cells := extractRow(row, cm)
		if !cells.complete() {
			continue
		}
		complete++

		rec, ok := cells.toRecord()
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, errNoValidData(complete > 0)
	}

	res := aggregate(records)
	res.SkippedRows = len(rows) - len(records)
	return res, nil
}

// IngestReader reads r fully and ingests it. At most SizeLimit+1 bytes are
// read, so oversized input is rejected without buffering all of it, and
// the reported Error.Size is then SizeLimit+1.
func IngestReader(r io.Reader, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	data, err := io.ReadAll(io.LimitReader(r, opts.SizeLimit+1))
	if err != nil {
		return nil, errProcessing(err)
	}
	return Ingest(data, opts)
}

// parseTable tokenizes data into a header row and data rows. Leading
// all-blank lines are skipped; a data row wider than the header is a
// structural error.
func parseTable(data []byte) (header []string, rows [][]string, err error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	for {
		rec, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			var pe *csv.ParseError
			if errors.As(readErr, &pe) {
				return nil, nil, errMalformed(readErr)
			}
			return nil, nil, errProcessing(readErr)
		}

		if header == nil {
			if isEmptyRow(rec) {
				continue
			}
			header = rec
			continue
		}

		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, nil, errMalformed(fmt.Errorf("line %d: expected %d fields, saw %d", line, len(header), len(rec)))
		}
		if isEmptyRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}

	if header == nil {
		return nil, nil, errEmptyFile()
	}
	return header, rows, nil
}
