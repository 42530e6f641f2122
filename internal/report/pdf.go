// Package report renders stored datasets as downloadable documents: a PDF
// summary report and tabular CSV or Parquet exports.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/store"
)

const (
	inch = 25.4

	sampleRows    = 10
	nameMaxRunes  = 20
	typeMaxRunes  = 15
	timestampForm = "2006-01-02 15:04:05"
)

type rgb struct{ r, g, b int }

var (
	colorTitle   = rgb{0x1e, 0x40, 0xaf}
	colorLabel   = rgb{0xe5, 0xe7, 0xeb}
	colorStats   = rgb{0x3b, 0x82, 0xf6}
	colorTypes   = rgb{0x10, 0xb9, 0x81}
	colorDetails = rgb{0x63, 0x66, 0xf1}
	colorStripe  = rgb{0xf3, 0xf4, 0xf6}
	colorWhite   = rgb{0xff, 0xff, 0xff}
)

// PDFName is the download file name of a dataset's report.
func PDFName(id int64) string {
	return fmt.Sprintf("equipment_report_%d.pdf", id)
}

// WritePDF renders the dataset report: dataset information, average
// measurements, the type distribution as a table and bar chart, and the
// first records. d must carry its records.
func WritePDF(w io.Writer, d *store.Dataset) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetCreationDate(d.UploadedAt)
	pdf.SetTitle("Equipment Data Analysis Report", true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	r := &renderer{pdf: pdf, tr: tr}

	r.title("Equipment Data Analysis Report")

	r.heading("Dataset Information")
	r.labelTable([][2]string{
		{"Dataset ID:", fmt.Sprint(d.ID)},
		{"Uploaded By:", d.Owner.Username},
		{"Upload Date:", d.UploadedAt.UTC().Format(timestampForm)},
		{"File:", d.FileName},
		{"Total Equipment:", fmt.Sprint(d.TotalEquipment)},
	})

	r.heading("Summary Statistics")
	r.table(colorStats, []float64{3 * inch, 3 * inch}, 11,
		[]string{"Metric", "Average Value"},
		[][]string{
			{"Flowrate", fmt.Sprintf("%.2f", d.AvgFlowrate)},
			{"Pressure", fmt.Sprintf("%.2f", d.AvgPressure)},
			{"Temperature", fmt.Sprintf("%.2f", d.AvgTemperature)},
		})

	counts := ingest.SortedTypeCounts(d.EquipmentTypes)
	r.heading("Equipment Type Distribution")
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Type, fmt.Sprint(c.Count)})
	}
	r.table(colorTypes, []float64{3 * inch, 3 * inch}, 11, []string{"Equipment Type", "Count"}, rows)
	r.barChart(counts)

	r.heading("Equipment Details (Sample)")
	details := make([][]string, 0, sampleRows)
	for i, rec := range d.Records {
		if i == sampleRows {
			break
		}
		details = append(details, []string{
			truncate(rec.Name, nameMaxRunes),
			truncate(rec.Type, typeMaxRunes),
			fmt.Sprintf("%.1f", rec.Flowrate),
			fmt.Sprintf("%.1f", rec.Pressure),
			fmt.Sprintf("%.1f", rec.Temperature),
		})
	}
	r.table(colorDetails, []float64{1.8 * inch, 1.3 * inch, inch, inch, inch}, 9,
		[]string{"Name", "Type", "Flowrate", "Pressure", "Temp"}, details)

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Generated on %s | Total Records: %d",
		time.Now().UTC().Format(timestampForm), d.TotalEquipment)), "", 1, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

type renderer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (r *renderer) title(s string) {
	r.pdf.SetFont("Helvetica", "B", 24)
	r.pdf.SetTextColor(colorTitle.r, colorTitle.g, colorTitle.b)
	r.pdf.CellFormat(0, 14, r.tr(s), "", 1, "C", false, 0, "")
	r.pdf.Ln(8)
}

func (r *renderer) heading(s string) {
	r.pdf.SetFont("Helvetica", "B", 14)
	r.pdf.SetTextColor(0, 0, 0)
	r.pdf.CellFormat(0, 9, r.tr(s), "", 1, "L", false, 0, "")
	r.pdf.Ln(2)
}

// labelTable draws two columns with a shaded bold label column.
func (r *renderer) labelTable(rows [][2]string) {
	r.pdf.SetDrawColor(128, 128, 128)
	r.pdf.SetFillColor(colorLabel.r, colorLabel.g, colorLabel.b)
	for _, row := range rows {
		r.pdf.SetFont("Helvetica", "B", 10)
		r.pdf.CellFormat(2*inch, 8, r.tr(row[0]), "1", 0, "L", true, 0, "")
		r.pdf.SetFont("Helvetica", "", 10)
		r.pdf.CellFormat(4*inch, 8, r.tr(row[1]), "1", 1, "L", false, 0, "")
	}
	r.pdf.Ln(6)
}

// table draws a header row in header color followed by striped body rows.
func (r *renderer) table(header rgb, widths []float64, size float64, cols []string, rows [][]string) {
	r.pdf.SetDrawColor(128, 128, 128)

	r.pdf.SetFont("Helvetica", "B", size)
	r.pdf.SetFillColor(header.r, header.g, header.b)
	r.pdf.SetTextColor(colorWhite.r, colorWhite.g, colorWhite.b)
	for i, c := range cols {
		r.pdf.CellFormat(widths[i], 8, r.tr(c), "1", 0, "C", true, 0, "")
	}
	r.pdf.Ln(-1)

	r.pdf.SetFont("Helvetica", "", size)
	r.pdf.SetTextColor(0, 0, 0)
	for n, row := range rows {
		stripe := colorWhite
		if n%2 == 1 {
			stripe = colorStripe
		}
		r.pdf.SetFillColor(stripe.r, stripe.g, stripe.b)
		for i, cell := range row {
			r.pdf.CellFormat(widths[i], 7, r.tr(cell), "1", 0, "C", true, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(6)
}

// barChart draws one bar per equipment type scaled to the largest count.
func (r *renderer) barChart(counts []ingest.TypeCount) {
	if len(counts) == 0 {
		return
	}

	const (
		chartW = 4 * inch
		chartH = 1.8 * inch
		labelH = 6
	)

	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c.Count)
	}

	_, pageH := r.pdf.GetPageSize()
	_, _, _, bottom := r.pdf.GetMargins()
	if r.pdf.GetY()+chartH+labelH+4 > pageH-bottom {
		r.pdf.AddPage()
	}

	left, _, _, _ := r.pdf.GetMargins()
	x0 := left + inch/2
	y0 := r.pdf.GetY()
	slot := chartW / float64(len(counts))
	barW := slot * 0.6

	r.pdf.SetDrawColor(128, 128, 128)
	r.pdf.Line(x0, y0+chartH, x0+chartW, y0+chartH)
	r.pdf.Line(x0, y0, x0, y0+chartH)

	r.pdf.SetFillColor(colorStats.r, colorStats.g, colorStats.b)
	r.pdf.SetFont("Helvetica", "", 8)
	for i, c := range counts {
		h := chartH * float64(c.Count) / float64(maxCount)
		x := x0 + float64(i)*slot + (slot-barW)/2
		r.pdf.Rect(x, y0+chartH-h, barW, h, "F")

		r.pdf.SetXY(x0+float64(i)*slot, y0+chartH+1)
		r.pdf.CellFormat(slot, labelH-2, r.tr(truncate(c.Type, typeMaxRunes)), "", 0, "C", false, 0, "")
	}

	r.pdf.SetXY(left, y0+chartH+labelH+4)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
