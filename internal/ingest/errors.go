package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why an ingestion failed. Every kind is terminal: retrying
// the same bytes yields the same outcome.
type Kind int

const (
	FileTooLarge Kind = iota + 1
	EmptyFile
	MalformedFile
	MissingColumns
	NoValidData
	ProcessingError
)

// String returns the snake_case name used for metrics labels and CLI output.
func (k Kind) String() string {
	switch k {
	case FileTooLarge:
		return "file_too_large"
	case EmptyFile:
		return "empty_file"
	case MalformedFile:
		return "malformed_file"
	case MissingColumns:
		return "missing_columns"
	case NoValidData:
		return "no_valid_data"
	case ProcessingError:
		return "processing_error"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Ingest. Its message is safe to show
// to the uploader as-is.
type Error struct {
	Kind Kind

	// Missing lists the absent logical columns in canonical form.
	// Set only for MissingColumns.
	Missing []string

	// Size and Limit are set only for FileTooLarge. Size is the number of
	// bytes the check saw: callers that cap their read at Limit+1 get
	// Limit+1 as a lower bound, and -1 means unknown.
	Size  int64
	Limit int64

	// Err is the underlying cause for MalformedFile and ProcessingError.
	Err error

	msg string
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers can
// match with errors.Is(err, ingest.ErrMissingColumns).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrFileTooLarge    = &Error{Kind: FileTooLarge, msg: "file too large"}
	ErrEmptyFile       = &Error{Kind: EmptyFile, msg: "CSV file is empty"}
	ErrMalformedFile   = &Error{Kind: MalformedFile, msg: "Invalid CSV format"}
	ErrMissingColumns  = &Error{Kind: MissingColumns, msg: "Missing required columns"}
	ErrNoValidData     = &Error{Kind: NoValidData, msg: "No valid data rows found in CSV file"}
	ErrProcessingError = &Error{Kind: ProcessingError, msg: "Error processing CSV"}
)

// KindOf returns the Kind of err, or 0 if err is not an ingestion error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

// TooLarge builds the FileTooLarge error for a payload rejected before it
// reached Ingest, such as an oversized request body.
func TooLarge(size, limit int64) *Error {
	return errFileTooLarge(size, limit)
}

func errFileTooLarge(size, limit int64) *Error {
	return &Error{
		Kind:  FileTooLarge,
		Size:  size,
		Limit: limit,
		msg:   fmt.Sprintf("File size exceeds %s limit", formatLimit(limit)),
	}
}

func errEmptyFile() *Error {
	return &Error{Kind: EmptyFile, msg: "CSV file is empty"}
}

func errMalformed(cause error) *Error {
	msg := "Invalid CSV format"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: MalformedFile, Err: cause, msg: msg}
}

func errMissingColumns(missing []string) *Error {
	return &Error{
		Kind:    MissingColumns,
		Missing: missing,
		msg:     "Missing required columns: " + strings.Join(missing, ", "),
	}
}

func errNoValidData(numericStage bool) *Error {
	if numericStage {
		return &Error{Kind: NoValidData, msg: "No valid numeric data found in CSV file"}
	}
	return &Error{Kind: NoValidData, msg: "No valid data rows found in CSV file"}
}

func errProcessing(cause error) *Error {
	return &Error{
		Kind: ProcessingError,
		Err:  cause,
		msg:  fmt.Sprintf("Error processing CSV: %v", cause),
	}
}

// formatLimit renders whole-mebibyte limits as "10MB" and anything else in bytes.
func formatLimit(limit int64) string {
	const mib = 1024 * 1024
	if limit > 0 && limit%mib == 0 {
		return fmt.Sprintf("%dMB", limit/mib)
	}
	return fmt.Sprintf("%d bytes", limit)
}
