package report

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/store"
)

func testDataset() *store.Dataset {
	res, err := ingest.Ingest([]byte("Equipment Name,Type,Flowrate,Pressure,Temperature\n"+
		"Pump-1,Pump,120.5,5.2,110\n"+
		"\"Valve, A\",Valve,60,4.1,105\n"+
		"Compressor-9,Compressor,150,6.2,130\n"), ingest.Options{})
	if err != nil {
		panic(err)
	}

	return &store.Dataset{
		ID:             42,
		Owner:          store.Owner{ID: 1, Username: "alice"},
		UploadedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		FileName:       "plant.csv",
		TotalEquipment: res.RecordCount,
		AvgFlowrate:    res.AverageFlowrate,
		AvgPressure:    res.AveragePressure,
		AvgTemperature: res.AverageTemperature,
		EquipmentTypes: res.TypeDistribution,
		Records:        res.Records,
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, testDataset()))

	out := buf.Bytes()
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out, []byte("%%EOF")))
}

func TestWritePDF_ManyRecordsAndTypes(t *testing.T) {
	d := testDataset()
	d.EquipmentTypes = map[string]int{}
	d.Records = nil
	for i := 0; i < 40; i++ {
		typ := "Type-" + strings.Repeat("x", i%7)
		d.Records = append(d.Records, ingest.Record{Name: "Équipement très long nom numéro", Type: typ, Flowrate: 1})
		d.EquipmentTypes[typ]++
	}

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, d))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestPDFName(t *testing.T) {
	assert.Equal(t, "equipment_report_7.pdf", PDFName(7))
}

func TestWriteCSV_RoundTrips(t *testing.T) {
	d := testDataset()

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, d, FormatCSV))

	res, err := ingest.Ingest(buf.Bytes(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, d.Records, res.Records)
}

func TestWriteParquet(t *testing.T) {
	d := testDataset()

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, d, FormatParquet))

	r := parquet.NewGenericReader[parquetRecord](bytes.NewReader(buf.Bytes()))
	defer r.Close()

	rows := make([]parquetRecord, len(d.Records)+1)
	n, err := r.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, len(d.Records), n)
	for i, rec := range d.Records {
		assert.Equal(t, rec.Name, rows[i].EquipmentName)
		assert.Equal(t, rec.Type, rows[i].EquipmentType)
		assert.Equal(t, rec.Flowrate, rows[i].Flowrate)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" parquet ", FormatParquet, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	assert.Equal(t, "equipment_dataset_3.parquet", FormatParquet.FileName(3))
	assert.Equal(t, "application/vnd.apache.parquet", FormatParquet.ContentType())
}
