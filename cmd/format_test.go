//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/consultator/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.ImportRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			File:        "VSA_missions.xlsx",
			Status:      model.ImportRunStatusComplete,
			StartedAt:   now,
			CompletedAt: &done,
			Counts:      model.ImportCounts{Total: 10, Imported: 7, Errors: 1, Skipped: 2},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			File:      "/very/long/path/to/exports/2025/VSA_missions_juin.xlsx",
			Status:    model.ImportRunStatusRunning,
			DryRun:    true,
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "IMPORTED")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "running (dry-run)")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "...")
}

func TestFormatMissions(t *testing.T) {
	start := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	rate := decimal.RequireFromString("650.5")
	missions := []model.Mission{
		{ID: 1, Code: "AFFAS263", ConsultantID: 42, ClientName: "Banque", DateStart: &start, DailyRate: &rate, Status: model.MissionStatusEnCours},
		{ID: 2, Code: "NODATE", ConsultantID: 7, ClientName: "Assurance", Status: model.MissionStatusTerminee},
	}

	var buf bytes.Buffer
	formatMissions(&buf, missions)

	output := buf.String()
	assert.Contains(t, output, "AFFAS263")
	assert.Contains(t, output, "2023-02-01")
	assert.Contains(t, output, "650.50")
	assert.Contains(t, output, "en_cours")
	assert.Contains(t, output, "terminee")
}

func TestFormatConsultants(t *testing.T) {
	consultants := []model.Consultant{
		{ID: 42, FirstName: "Eric", LastName: "Lapina", Practice: "Data", Active: true},
		{ID: 7, FirstName: "Marie", LastName: "Curie", Active: false},
	}

	var buf bytes.Buffer
	formatConsultants(&buf, consultants)

	output := buf.String()
	assert.Contains(t, output, "Eric LAPINA")
	assert.Contains(t, output, "Data")
	assert.Contains(t, output, "yes")
	assert.Contains(t, output, "no")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", truncate("éééééééééééé", 10))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
