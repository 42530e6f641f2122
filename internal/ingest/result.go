package ingest

import (
	"math"
	"sort"
)

// Record is one validated equipment row.
type Record struct {
	Name        string  `json:"equipment_name"`
	Type        string  `json:"equipment_type"`
	Flowrate    float64 `json:"flowrate"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Result is the outcome of a successful ingestion. It has no identity;
// persistence assigns one.
type Result struct {
	RecordCount        int            `json:"total_equipment"`
	AverageFlowrate    float64        `json:"avg_flowrate"`
	AveragePressure    float64        `json:"avg_pressure"`
	AverageTemperature float64        `json:"avg_temperature"`
	TypeDistribution   map[string]int `json:"equipment_types"`
	Records            []Record       `json:"equipment_records"`

	// SkippedRows counts non-empty data rows dropped by the row filters.
	SkippedRows int `json:"skipped_rows"`
}

// TypeCount is one entry of a type distribution.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TypeCounts returns the distribution ordered by count descending, then
// by type label ascending.
func (r *Result) TypeCounts() []TypeCount {
	return SortedTypeCounts(r.TypeDistribution)
}

// SortedTypeCounts orders a type distribution by count descending, then
// by type label ascending.
func SortedTypeCounts(dist map[string]int) []TypeCount {
	out := make([]TypeCount, 0, len(dist))
	for t, n := range dist {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// aggregate builds the Result over surviving records. records must be
// non-empty.
func aggregate(records []Record) *Result {
	var flow, pressure, temp float64
	dist := make(map[string]int)
	for i, rec := range records {
		k := float64(i + 1)
		flow = stepMean(flow, rec.Flowrate, k)
		pressure = stepMean(pressure, rec.Pressure, k)
		temp = stepMean(temp, rec.Temperature, k)
		dist[rec.Type]++
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	return &Result{
		RecordCount:        len(records),
		AverageFlowrate:    Round2(flow),
		AveragePressure:    Round2(pressure),
		AverageTemperature: Round2(temp),
		TypeDistribution:   dist,
		Records:            sorted,
	}
}

// stepMean folds the k-th value x into the running mean of the first k-1.
// Each term is divided before subtracting, so finite inputs of any
// magnitude keep the mean finite.
func stepMean(mean, x, k float64) float64 {
	return mean + x/k - mean/k
}

// roundExact is the magnitude at and above which float64 has no fractional
// digits left to round.
const roundExact = 1e15

// Round2 rounds to two decimal places, halves away from zero.
func Round2(v float64) float64 {
	if math.Abs(v) >= roundExact {
		return v
	}
	return math.Round(v*100) / 100
}
