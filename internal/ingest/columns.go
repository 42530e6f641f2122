package ingest

import "strings"

// Columns names the five logical fields in canonical title-case form.
// Header matching is case-insensitive and whitespace-trimmed, so these
// names double as the labels reported in MissingColumns errors.
type Columns struct {
	Name        string
	Type        string
	Flowrate    string
	Pressure    string
	Temperature string
}

// DefaultColumns are the logical fields of an equipment parameter CSV.
var DefaultColumns = Columns{
	Name:        "Equipment Name",
	Type:        "Type",
	Flowrate:    "Flowrate",
	Pressure:    "Pressure",
	Temperature: "Temperature",
}

// List returns the logical fields in canonical order.
func (c Columns) List() []string {
	return []string{c.Name, c.Type, c.Flowrate, c.Pressure, c.Temperature}
}

func (c Columns) isZero() bool {
	return c == Columns{}
}

// HeaderIndex maps normalized header text to its position in a CSV row.
type HeaderIndex map[string]int

// normalizeHeader is the comparison key for header matching.
func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// MakeHeaderIndex indexes a header row by normalized name.
// When two headers normalize equal, the right-most one wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

// columnMap holds the resolved row position of each logical field.
type columnMap struct {
	name, typ, flowrate, pressure, temperature int
}

// ResolveColumns matches the logical fields against a header row.
// It returns the names of every logical field with no matching header,
// in canonical order; the result is empty when all fields resolve.
func ResolveColumns(header []string, cols Columns) (HeaderIndex, []string) {
	idx := MakeHeaderIndex(header)
	var missing []string
	for _, name := range cols.List() {
		if _, ok := idx[normalizeHeader(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return idx, missing
}

func (idx HeaderIndex) columnMap(cols Columns) columnMap {
	return columnMap{
		name:        idx[normalizeHeader(cols.Name)],
		typ:         idx[normalizeHeader(cols.Type)],
		flowrate:    idx[normalizeHeader(cols.Flowrate)],
		pressure:    idx[normalizeHeader(cols.Pressure)],
		temperature: idx[normalizeHeader(cols.Temperature)],
	}
}
