package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/equipstat/internal/filestore"
	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/metrics"
	"github.com/JonMunkholm/equipstat/internal/report"
	"github.com/JonMunkholm/equipstat/internal/store"
)

const sampleCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
	"Pump-1,Pump,120,5.2,110\n" +
	"Pump-2,Pump,130,5.0,115\n" +
	"Valve-1,Valve,60,4.1,105\n"

// memDatasets is an in-memory DatasetStore.
type memDatasets struct {
	mu        sync.Mutex
	nextID    int64
	rows      []*store.Dataset // oldest first
	createErr error
	clock     time.Time
}

func (m *memDatasets) CreateDataset(_ context.Context, in store.NewDataset, keep int) (*store.Dataset, []store.Evicted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, nil, m.createErr
	}

	m.nextID++
	m.clock = m.clock.Add(time.Second)
	d := &store.Dataset{
		ID:             m.nextID,
		Owner:          store.Owner{ID: in.UserID},
		UploadedAt:     m.clock,
		FileName:       in.FileName,
		FileKey:        in.FileKey,
		TotalEquipment: in.Result.RecordCount,
		AvgFlowrate:    in.Result.AverageFlowrate,
		AvgPressure:    in.Result.AveragePressure,
		AvgTemperature: in.Result.AverageTemperature,
		EquipmentTypes: in.Result.TypeDistribution,
		Records:        in.Result.Records,
	}
	m.rows = append(m.rows, d)

	var evicted []store.Evicted
	owned := 0
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.Owner.ID != in.UserID {
			continue
		}
		owned++
		if owned > keep {
			evicted = append(evicted, store.Evicted{ID: r.ID, FileKey: r.FileKey})
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
		}
	}
	return d, evicted, nil
}

func (m *memDatasets) ListDatasets(_ context.Context, userID int64, limit int) ([]store.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Dataset
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].Owner.ID == userID {
			d := *m.rows[i]
			d.Records = nil
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDatasets) GetDataset(_ context.Context, userID, id int64) (*store.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.Owner.ID == userID {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memDatasets) DeleteDataset(_ context.Context, userID, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == id && r.Owner.ID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return r.FileKey, nil
		}
	}
	return "", store.ErrNotFound
}

func (m *memDatasets) ListFileKeys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.rows))
	for i, r := range m.rows {
		keys[i] = r.FileKey
	}
	return keys, nil
}

// memFiles is an in-memory FileStore.
type memFiles struct {
	mu        sync.Mutex
	n         int
	data      map[string][]byte
	modTime   map[string]time.Time
	deleteErr error
	now       time.Time
}

func newMemFiles() *memFiles {
	return &memFiles{
		data:    map[string][]byte{},
		modTime: map[string]time.Time{},
		now:     time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memFiles) Save(data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	key := fmt.Sprintf("datasets/%03d%s", m.n, ext)
	m.data[key] = append([]byte(nil), data...)
	m.modTime[key] = m.now
	return key, nil
}

func (m *memFiles) Open(key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, filestore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memFiles) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.data, key)
	delete(m.modTime, key)
	return nil
}

func (m *memFiles) List() ([]filestore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []filestore.Object
	for k, b := range m.data {
		out = append(out, filestore.Object{Key: k, Size: int64(len(b)), ModTime: m.modTime[k]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memFiles) keys() []string {
	objs, _ := m.List()
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys
}

type fixture struct {
	svc      *Service
	datasets *memDatasets
	files    *memFiles
	metrics  *metrics.Metrics
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		datasets: &memDatasets{},
		files:    newMemFiles(),
		metrics:  metrics.New(),
	}
	f.svc = NewService(f.datasets, f.files, NewUploadLimiter(2, 50*time.Millisecond), f.metrics, opts)
	return f
}

func TestUploadCSV_Stores(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	d, err := f.svc.UploadCSV(ctx, 1, "plant.CSV", []byte(sampleCSV))
	if err != nil {
		t.Fatalf("UploadCSV() error = %v", err)
	}

	if d.TotalEquipment != 3 {
		t.Errorf("TotalEquipment = %d, want 3", d.TotalEquipment)
	}
	if d.AvgFlowrate != 103.33 {
		t.Errorf("AvgFlowrate = %v, want 103.33", d.AvgFlowrate)
	}
	if d.EquipmentTypes["Pump"] != 2 || d.EquipmentTypes["Valve"] != 1 {
		t.Errorf("EquipmentTypes = %v", d.EquipmentTypes)
	}
	if d.FileName != "plant.CSV" {
		t.Errorf("FileName = %q", d.FileName)
	}

	rc, err := f.files.Open(d.FileKey)
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	raw, _ := io.ReadAll(rc)
	if string(raw) != sampleCSV {
		t.Errorf("stored bytes differ from upload")
	}

	if got := testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(metrics.OutcomeSuccess)); got != 1 {
		t.Errorf("success uploads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.RecordsIngested); got != 3 {
		t.Errorf("records ingested = %v, want 3", got)
	}
}

func TestUploadCSV_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     string
		wantErr  error
		outcome  string
	}{
		{"no file name", "", sampleCSV, ErrNoFile, outcomeInvalid},
		{"not a csv", "plant.xlsx", sampleCSV, ErrNotCSV, outcomeInvalid},
		{"csv in the middle", "plant.csv.txt", sampleCSV, ErrNotCSV, outcomeInvalid},
		{"empty", "e.csv", "", ingest.ErrEmptyFile, "empty_file"},
		{"missing column", "m.csv", "Equipment Name,Type,Flowrate,Pressure\nP,Pump,1,2\n", ingest.ErrMissingColumns, "missing_columns"},
		{"no valid rows", "n.csv", "Equipment Name,Type,Flowrate,Pressure,Temperature\nP,Pump,x,2,3\n", ingest.ErrNoValidData, "no_valid_data"},
		{"too large", "big.csv", strings.Repeat("x", 200), ingest.ErrFileTooLarge, "file_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{SizeLimit: 128})

			d, err := f.svc.UploadCSV(context.Background(), 1, tt.fileName, []byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UploadCSV() error = %v, want %v", err, tt.wantErr)
			}
			if d != nil {
				t.Errorf("UploadCSV() returned a dataset on failure")
			}
			if keys := f.files.keys(); len(keys) != 0 {
				t.Errorf("files left behind: %v", keys)
			}
			if got := testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(tt.outcome)); got != 1 {
				t.Errorf("uploads{outcome=%q} = %v, want 1", tt.outcome, got)
			}
		})
	}
}

func TestUploadCSV_PersistFailureRemovesFile(t *testing.T) {
	f := newFixture(Options{})
	f.datasets.createErr = errors.New("connection refused")

	_, err := f.svc.UploadCSV(context.Background(), 1, "plant.csv", []byte(sampleCSV))
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("UploadCSV() error = %v, want wrapped store error", err)
	}
	if keys := f.files.keys(); len(keys) != 0 {
		t.Errorf("saved file not cleaned up: %v", keys)
	}
	if got := MapError(err).Code; got != "DB004" {
		t.Errorf("MapError code = %q, want DB004", got)
	}
}

func TestUploadCSV_RetentionDeletesEvictedFiles(t *testing.T) {
	f := newFixture(Options{RetainPerUser: 2})
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		d, err := f.svc.UploadCSV(ctx, 7, fmt.Sprintf("u%d.csv", i), []byte(sampleCSV))
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		ids = append(ids, d.ID)
	}
	if _, err := f.svc.UploadCSV(ctx, 8, "other.csv", []byte(sampleCSV)); err != nil {
		t.Fatalf("other owner upload: %v", err)
	}

	hist, err := f.svc.History(ctx, 7)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 2 || hist[0].ID != ids[3] || hist[1].ID != ids[2] {
		t.Errorf("History() ids = %v, want [%d %d]", datasetIDs(hist), ids[3], ids[2])
	}

	if got := len(f.files.keys()); got != 3 {
		t.Errorf("stored files = %d, want 3 (two retained plus the other owner's)", got)
	}
	if got := testutil.ToFloat64(f.metrics.Evictions); got != 2 {
		t.Errorf("evictions = %v, want 2", got)
	}
}

func datasetIDs(ds []store.Dataset) []int64 {
	ids := make([]int64, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}

func TestUploadCSV_BusyLimiter(t *testing.T) {
	f := newFixture(Options{})
	lim := f.svc.Limiter()
	for i := 0; i < 2; i++ {
		if err := lim.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	defer lim.Release()
	defer lim.Release()

	_, err := f.svc.UploadCSV(context.Background(), 1, "plant.csv", []byte(sampleCSV))
	if !errors.Is(err, ErrTooManyUploads) {
		t.Fatalf("UploadCSV() error = %v, want ErrTooManyUploads", err)
	}
	if got := testutil.ToFloat64(f.metrics.Uploads.WithLabelValues(outcomeBusy)); got != 1 {
		t.Errorf("busy uploads = %v, want 1", got)
	}
}

func TestHistory_Limit(t *testing.T) {
	f := newFixture(Options{RetainPerUser: 10})
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if _, err := f.svc.UploadCSV(ctx, 1, "p.csv", []byte(sampleCSV)); err != nil {
			t.Fatal(err)
		}
	}

	hist, err := f.svc.History(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != DefaultHistoryLimit {
		t.Errorf("len(History()) = %d, want %d", len(hist), DefaultHistoryLimit)
	}

	empty, err := f.svc.History(ctx, 99)
	if err != nil || len(empty) != 0 {
		t.Errorf("History(unknown owner) = %v, %v", empty, err)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	d, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	sum, err := f.svc.Summary(ctx, 1, d.ID)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(sum.Dataset.Records) != 3 {
		t.Errorf("records = %d, want 3", len(sum.Dataset.Records))
	}
	wantLabels := []string{"Pump", "Valve"}
	wantValues := []int{2, 1}
	if fmt.Sprint(sum.Chart.Labels) != fmt.Sprint(wantLabels) || fmt.Sprint(sum.Chart.Values) != fmt.Sprint(wantValues) {
		t.Errorf("Chart = %+v, want labels %v values %v", sum.Chart, wantLabels, wantValues)
	}

	if _, err := f.svc.Summary(ctx, 2, d.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Summary(other owner) error = %v, want ErrDatasetNotFound", err)
	}
}

func TestReportAndExport(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	d, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	var pdf bytes.Buffer
	if err := f.svc.Report(ctx, 1, d.ID, &pdf); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if !bytes.HasPrefix(pdf.Bytes(), []byte("%PDF-")) {
		t.Errorf("Report() did not write a PDF")
	}

	var csvOut bytes.Buffer
	if err := f.svc.Export(ctx, 1, d.ID, report.FormatCSV, &csvOut); err != nil {
		t.Fatalf("Export(csv) error = %v", err)
	}
	if !strings.HasPrefix(csvOut.String(), "Equipment Name,Type,Flowrate,Pressure,Temperature") {
		t.Errorf("Export(csv) header = %q", strings.SplitN(csvOut.String(), "\n", 2)[0])
	}

	var none bytes.Buffer
	if err := f.svc.Report(ctx, 2, d.ID, &none); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Report(other owner) error = %v", err)
	}
	if none.Len() != 0 {
		t.Errorf("Report wrote %d bytes on failure", none.Len())
	}
	if err := f.svc.Export(ctx, 1, d.ID, report.Format("xlsx"), &none); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Export(xlsx) error = %v", err)
	}
}

func TestSource(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	d, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	got, rc, err := f.svc.Source(ctx, 1, d.ID)
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if got.ID != d.ID || string(raw) != sampleCSV {
		t.Errorf("Source() = %d, %q", got.ID, raw)
	}

	f.files.Delete(d.FileKey)
	if _, _, err := f.svc.Source(ctx, 1, d.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Source(missing file) error = %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()
	d, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Delete(ctx, 2, d.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Delete(other owner) error = %v", err)
	}
	if err := f.svc.Delete(ctx, 1, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if keys := f.files.keys(); len(keys) != 0 {
		t.Errorf("file not deleted: %v", keys)
	}
	if err := f.svc.Delete(ctx, 1, d.ID); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestDelete_FileFailureLeavesOrphanForSweep(t *testing.T) {
	f := newFixture(Options{UploadTimeout: time.Minute})
	ctx := context.Background()
	d, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	f.files.deleteErr = errors.New("disk busy")
	if err := f.svc.Delete(ctx, 1, d.ID); err != nil {
		t.Fatalf("Delete() error = %v, want nil when only the file delete fails", err)
	}
	if keys := f.files.keys(); len(keys) != 1 {
		t.Fatalf("expected the orphan to remain, got %v", keys)
	}

	f.files.deleteErr = nil
	res, err := f.svc.SweepOrphans(ctx, f.files.now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 0 {
		t.Errorf("swept a file inside the grace period")
	}

	res, err = f.svc.SweepOrphans(ctx, f.files.now.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if res != (SweepResult{Scanned: 1, Deleted: 1}) {
		t.Errorf("SweepOrphans() = %+v", res)
	}
	if got := testutil.ToFloat64(f.metrics.FilesSwept); got != 1 {
		t.Errorf("files swept = %v, want 1", got)
	}
}

func TestSweepOrphans_KeepsReferenced(t *testing.T) {
	f := newFixture(Options{SweepGrace: time.Second})
	ctx := context.Background()
	if _, err := f.svc.UploadCSV(ctx, 1, "plant.csv", []byte(sampleCSV)); err != nil {
		t.Fatal(err)
	}
	orphan, _ := f.files.Save([]byte("x"), ".csv")

	res, err := f.svc.SweepOrphans(ctx, f.files.now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 2 || res.Deleted != 1 {
		t.Errorf("SweepOrphans() = %+v", res)
	}
	for _, k := range f.files.keys() {
		if k == orphan {
			t.Errorf("orphan %s survived", orphan)
		}
	}
}

func TestStartSweeper_StopsOnCancel(t *testing.T) {
	f := newFixture(Options{SweepGrace: time.Nanosecond})
	f.files.Save([]byte("x"), ".csv")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.StartSweeper(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(f.files.keys()) != 0 {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(Options{})
	in := sampleCSV + "Broken,Pump,n/a,1,2\n" + "Fan-1,Fan,abc,1,2\n"

	p, err := f.svc.Preview(context.Background(), "plant.csv", []byte(in))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	want := PreviewSummary{TotalRows: 5, ValidRows: 3, SkippedRows: 2}
	if p.Summary != want {
		t.Errorf("Summary = %+v, want %+v", p.Summary, want)
	}
	if len(p.Samples) != 3 || p.Samples[0].Name != "Pump-1" {
		t.Errorf("Samples = %+v", p.Samples)
	}
	if len(p.EquipmentTypes) != 2 || p.EquipmentTypes[0] != (ingest.TypeCount{Type: "Pump", Count: 2}) {
		t.Errorf("EquipmentTypes = %+v", p.EquipmentTypes)
	}

	if keys := f.files.keys(); len(keys) != 0 {
		t.Errorf("preview stored files: %v", keys)
	}
	if len(f.datasets.rows) != 0 {
		t.Errorf("preview stored %d datasets", len(f.datasets.rows))
	}
	if got := testutil.CollectAndCount(f.metrics.Uploads); got != 0 {
		t.Errorf("preview recorded %d upload series", got)
	}
}

func TestPreview_SampleLimit(t *testing.T) {
	f := newFixture(Options{})
	var b strings.Builder
	b.WriteString("Equipment Name,Type,Flowrate,Pressure,Temperature\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "P-%02d,Pump,%d,1,2\n", i, i)
	}

	p, err := f.svc.Preview(context.Background(), "many.csv", []byte(b.String()))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(p.Samples) != maxPreviewSamples {
		t.Errorf("len(Samples) = %d, want %d", len(p.Samples), maxPreviewSamples)
	}
	if p.Summary.ValidRows != 25 {
		t.Errorf("ValidRows = %d, want 25", p.Summary.ValidRows)
	}
}

func TestPreview_Errors(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	if _, err := f.svc.Preview(ctx, "plant.txt", []byte(sampleCSV)); !errors.Is(err, ErrNotCSV) {
		t.Errorf("non-csv name: err = %v, want ErrNotCSV", err)
	}
	if _, err := f.svc.Preview(ctx, "", nil); !errors.Is(err, ErrNoFile) {
		t.Errorf("no name: err = %v, want ErrNoFile", err)
	}
	_, err := f.svc.Preview(ctx, "m.csv", []byte("Equipment Name,Type\nP,Pump\n"))
	if !errors.Is(err, ingest.ErrMissingColumns) {
		t.Errorf("missing columns: err = %v", err)
	}
}
