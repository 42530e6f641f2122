package web

import (
	"time"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/ingest"
	"github.com/JonMunkholm/equipstat/internal/store"
)

type userView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func newSessionView(s *auth.Session) sessionView {
	return sessionView{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt.UTC(),
		User:      userView{ID: s.User.ID, Username: s.User.Username, Email: s.User.Email},
	}
}

type datasetView struct {
	ID               int64              `json:"id"`
	User             userView           `json:"user"`
	UploadedAt       time.Time          `json:"uploaded_at"`
	File             string             `json:"file"`
	TotalEquipment   int                `json:"total_equipment"`
	AvgFlowrate      float64            `json:"avg_flowrate"`
	AvgPressure      float64            `json:"avg_pressure"`
	AvgTemperature   float64            `json:"avg_temperature"`
	EquipmentTypes   []ingest.TypeCount `json:"equipment_types"`
	EquipmentRecords []ingest.Record    `json:"equipment_records,omitempty"`
	ChartData        *core.ChartData    `json:"chart_data,omitempty"`
}

// newDatasetView renders d; records are included only when withRecords.
func newDatasetView(d *store.Dataset, withRecords bool) datasetView {
	v := datasetView{
		ID:             d.ID,
		User:           userView{ID: d.Owner.ID, Username: d.Owner.Username, Email: d.Owner.Email},
		UploadedAt:     d.UploadedAt.UTC(),
		File:           d.FileName,
		TotalEquipment: d.TotalEquipment,
		AvgFlowrate:    d.AvgFlowrate,
		AvgPressure:    d.AvgPressure,
		AvgTemperature: d.AvgTemperature,
		EquipmentTypes: ingest.SortedTypeCounts(d.EquipmentTypes),
	}
	if withRecords {
		v.EquipmentRecords = d.Records
	}
	return v
}

func newSummaryView(s *core.Summary) datasetView {
	v := newDatasetView(s.Dataset, true)
	chart := s.Chart
	v.ChartData = &chart
	return v
}
