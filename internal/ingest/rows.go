package ingest

import (
	"math"
	"strconv"
	"strings"
)

// naMarkers are cell values treated as missing, in addition to blank cells.
// Spreadsheet and dataframe exports commonly write these for empty values.
var naMarkers = map[string]struct{}{
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// isBlank reports whether a trimmed cell carries no value.
func isBlank(cell string) bool {
	if cell == "" {
		return true
	}
	_, na := naMarkers[cell]
	return na
}

// cellAt returns the trimmed cell at pos, or "" for short rows.
func cellAt(row []string, pos int) string {
	if pos < 0 || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// rawRow is the five logical cells of one data row, trimmed.
type rawRow struct {
	name, typ, flowrate, pressure, temperature string
}

func extractRow(row []string, cm columnMap) rawRow {
	return rawRow{
		name:        cellAt(row, cm.name),
		typ:         cellAt(row, cm.typ),
		flowrate:    cellAt(row, cm.flowrate),
		pressure:    cellAt(row, cm.pressure),
		temperature: cellAt(row, cm.temperature),
	}
}

// complete is the first row filter: every logical cell has a value.
func (r rawRow) complete() bool {
	return !isBlank(r.name) &&
		!isBlank(r.typ) &&
		!isBlank(r.flowrate) &&
		!isBlank(r.pressure) &&
		!isBlank(r.temperature)
}

// toRecord is the second row filter: all three measurements parse as
// finite numbers. ok is false when the row must be dropped.
func (r rawRow) toRecord() (rec Record, ok bool) {
	flow, ok := parseMeasurement(r.flowrate)
	if !ok {
		return Record{}, false
	}
	pressure, ok := parseMeasurement(r.pressure)
	if !ok {
		return Record{}, false
	}
	temp, ok := parseMeasurement(r.temperature)
	if !ok {
		return Record{}, false
	}
	return Record{
		Name:        r.name,
		Type:        r.typ,
		Flowrate:    flow,
		Pressure:    pressure,
		Temperature: temp,
	}, true
}

// parseMeasurement parses a decimal numeric cell, rejecting NaN,
// infinities and hexadecimal floats.
func parseMeasurement(s string) (float64, bool) {
	if isHex(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// isHex reports whether s, after an optional sign, has a 0x prefix.
func isHex(s string) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// isEmptyRow reports whether every cell in the row is whitespace.
func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
