package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical day layout used for mission dates in keys and storage.
const DateLayout = "2006-01-02"

// MissionStatus represents the lifecycle state of a mission.
type MissionStatus string

const (
	MissionStatusEnCours  MissionStatus = "en_cours"
	MissionStatusTerminee MissionStatus = "terminee"
)

// MissionSourceVSA marks missions created by the VSA spreadsheet import.
const MissionSourceVSA = "vsa"

// Mission is a single consulting engagement for one consultant at one client.
// Missions written by the import are never updated afterwards.
type Mission struct {
	ID           int64            `json:"id,omitempty"`
	ConsultantID int64            `json:"consultant_id"`
	Code         string           `json:"code"`
	OrderID      string           `json:"order_id"`
	ClientName   string           `json:"client_name"`
	DateStart    *time.Time       `json:"date_start,omitempty"`
	DateEnd      *time.Time       `json:"date_end,omitempty"`
	DailyRate    *decimal.Decimal `json:"daily_rate,omitempty"` // TJM
	DailyCost    *decimal.Decimal `json:"daily_cost,omitempty"` // CJM
	Description  string           `json:"description,omitempty"`
	Status       MissionStatus    `json:"status"`
	Source       string           `json:"source"`
	ImportRunID  string           `json:"import_run_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Key returns the composite deduplication key of the mission.
func (m *Mission) Key() MissionKey {
	return MissionKey{
		Code:         m.Code,
		ConsultantID: m.ConsultantID,
		DateStart:    FormatDate(m.DateStart),
	}
}

// MissionKey identifies a mission for deduplication: the same code can be
// reused by one consultant for several periods, so the start date is part of
// the key. DateStart is empty when the mission has no start date.
type MissionKey struct {
	Code         string
	ConsultantID int64
	DateStart    string
}

// HasDate reports whether the key carries a start date. Keys without one
// cannot be compared precisely.
func (k MissionKey) HasDate() bool {
	return k.DateStart != ""
}

func (k MissionKey) String() string {
	d := k.DateStart
	if d == "" {
		d = "-"
	}
	return k.Code + "/" + strconv.FormatInt(k.ConsultantID, 10) + "/" + d
}

// FormatDate renders t as YYYY-MM-DD, or "" when t is nil.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// MissionFilter specifies criteria for listing missions.
type MissionFilter struct {
	ConsultantID int64  `json:"consultant_id,omitempty"`
	Code         string `json:"code,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}
