// Package store persists consultants, missions and import runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/consultator/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a mission violates the
	// (code, consultant_id, date_start) unique index.
	ErrDuplicate = errors.New("store: duplicate mission")
)

// ConsultantReader resolves consultants by their numeric identifier.
type ConsultantReader interface {
	GetConsultant(ctx context.Context, id int64) (*model.Consultant, error)
}

// MissionTx is an open write transaction for missions. Each InsertMission is
// isolated in a savepoint: a failed insert leaves the transaction usable.
type MissionTx interface {
	InsertMission(ctx context.Context, m *model.Mission) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store defines the persistence interface for Consultator.
type Store interface {
	ConsultantReader

	// Consultants
	UpsertConsultants(ctx context.Context, consultants []model.Consultant) (int64, error)
	ListConsultants(ctx context.Context) ([]model.Consultant, error)

	// Missions
	ListMissionKeys(ctx context.Context) ([]model.MissionKey, error)
	ListMissions(ctx context.Context, filter model.MissionFilter) ([]model.Mission, error)
	BeginMissions(ctx context.Context) (MissionTx, error)

	// Import runs
	CreateImportRun(ctx context.Context, run *model.ImportRun) error
	FinishImportRun(ctx context.Context, id string, status model.ImportRunStatus, counts model.ImportCounts, errMsg string) error
	GetImportRun(ctx context.Context, id string) (*model.ImportRun, error)
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

const savepointName = "mission_row"

// helpers shared by both backends

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(model.DateLayout)
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDateColumn(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDecimalColumn(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
