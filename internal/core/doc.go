// Package core provides the business logic for equipment dataset uploads.
//
// It sits between the transport layer and the stores and has no HTTP
// dependencies, so the web handlers, the CLI and tests share it.
//
// # Upload flow
//
// [Service.UploadCSV] is all-or-nothing:
//
//  1. The file name must end in .csv.
//  2. A slot is taken from the [UploadLimiter]; callers wait up to the
//     configured time and then get [ErrTooManyUploads].
//  3. The bytes run through [ingest.Ingest] with the configured size limit
//     and column names. Any ingest error is returned unchanged.
//  4. The raw file is saved to the [FileStore].
//  5. The dataset and its records are written in one transaction, which also
//     evicts the owner's datasets beyond RetainPerUser.
//  6. Evicted files are deleted. If step 5 failed, the file saved in step 4
//     is deleted instead.
//
// [Service.Preview] runs steps 1 to 3 only and stores nothing.
//
// # Reads
//
// [Service.History], [Service.Summary], [Service.Report] and
// [Service.Export] all scope by owner; a dataset owned by someone else
// is reported as [ErrDatasetNotFound].
//
// # Background work
//
// [Service.StartSweeper] periodically removes stored files that no dataset
// references. Those are left behind when a file delete fails after its
// dataset row is already gone.
package core
