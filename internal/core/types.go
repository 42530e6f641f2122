package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JonMunkholm/equipstat/internal/filestore"
	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/store"
)

var (
	ErrNoFile            = errors.New("no file provided")
	ErrNotCSV            = errors.New("file must be a csv")
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// DatasetStore is the persistence the service needs. Satisfied by *store.Store.
type DatasetStore interface {
	CreateDataset(ctx context.Context, in store.NewDataset, keep int) (*store.Dataset, []store.Evicted, error)
	ListDatasets(ctx context.Context, userID int64, limit int) ([]store.Dataset, error)
	GetDataset(ctx context.Context, userID, id int64) (*store.Dataset, error)
	DeleteDataset(ctx context.Context, userID, id int64) (string, error)
	ListFileKeys(ctx context.Context) ([]string, error)
}

// FileStore keeps the raw uploads. Satisfied by *filestore.Store.
type FileStore interface {
	Save(data []byte, ext string) (string, error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
	List() ([]filestore.Object, error)
}

// Options tunes the service. Zero values select the defaults below.
type Options struct {
	SizeLimit     int64
	RetainPerUser int
	HistoryLimit  int
	UploadTimeout time.Duration
	Columns       ingest.Columns

	// SweepGrace protects files younger than this from the orphan sweeper.
	// Zero means twice UploadTimeout.
	SweepGrace time.Duration
}

const (
	DefaultRetainPerUser = 5
	DefaultHistoryLimit  = 5
	DefaultUploadTimeout = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.SizeLimit <= 0 {
		o.SizeLimit = ingest.DefaultSizeLimit
	}
	if o.RetainPerUser <= 0 {
		o.RetainPerUser = DefaultRetainPerUser
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = DefaultUploadTimeout
	}
	if o.SweepGrace <= 0 {
		o.SweepGrace = 2 * o.UploadTimeout
	}
	return o
}

// ChartData is the type distribution laid out for a bar chart.
type ChartData struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// Summary is a dataset with its records and chart data.
type Summary struct {
	Dataset *store.Dataset
	Chart   ChartData
}

// SweepResult reports one orphan sweep.
type SweepResult struct {
	Scanned int
	Deleted int
	Failed  int
}
