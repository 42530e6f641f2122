// Package exitcode defines the process exit codes of the equipstat CLI.
package exitcode

import "github.com/JonMunkholm/equipstat/internal/ingest"

const (
	Success         = 0
	UsageError      = 1
	ConfigError     = 2
	DBConnError     = 3
	MigrationError  = 4
	RuntimeError    = 5
	ingestKindsBase = 10
)

// ForKind returns the exit code reported by `equipstat ingest` for an
// ingestion failure: 10 plus the kind, so 11 is file_too_large and 16 is
// processing_error. Unknown kinds map to RuntimeError.
func ForKind(k ingest.Kind) int {
	if k < ingest.FileTooLarge || k > ingest.ProcessingError {
		return RuntimeError
	}
	return ingestKindsBase + int(k)
}
