package model

import "time"

// ImportRunStatus represents the state of an import run.
type ImportRunStatus string

const (
	ImportRunStatusRunning  ImportRunStatus = "running"
	ImportRunStatusComplete ImportRunStatus = "complete"
	ImportRunStatusFailed   ImportRunStatus = "failed"
)

// ImportRun records one execution of the VSA mission import.
type ImportRun struct {
	ID          string          `json:"id"`
	File        string          `json:"file"`
	Sheet       string          `json:"sheet"`
	DryRun      bool            `json:"dry_run"`
	Status      ImportRunStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Counts      ImportCounts    `json:"counts"`
	Error       string          `json:"error,omitempty"`
}

// ImportCounts holds the outcome tally of an import run.
// Skipped covers both Duplicates and NotFound.
type ImportCounts struct {
	Total      int `json:"total"`
	Imported   int `json:"imported"`
	Errors     int `json:"errors"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	NotFound   int `json:"not_found"`
}
