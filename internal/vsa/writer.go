package vsa

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/resilience"
	"github.com/sells-group/consultator/internal/store"
)

// Writer inserts admitted missions into the run's transaction. A failed
// insert only affects its own row; the transaction stays usable.
type Writer struct {
	tx    store.MissionTx
	retry resilience.RetryConfig
	runID string
	now   func() time.Time
}

// NewWriter creates a Writer for one import run.
func NewWriter(tx store.MissionTx, retry resilience.RetryConfig, runID string) *Writer {
	retry.OnRetry = resilience.RetryLogger("vsa.writer", "insert_mission")
	return &Writer{
		tx:    tx,
		retry: retry,
		runID: runID,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Write inserts m and sets its ID. A storage-level unique violation is
// returned as store.ErrDuplicate.
func (w *Writer) Write(ctx context.Context, m *model.Mission) error {
	m.ImportRunID = w.runID
	if m.Status == "" {
		m.Status = model.MissionStatusEnCours
	}
	if m.Source == "" {
		m.Source = model.MissionSourceVSA
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = w.now()
	}

	id, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (int64, error) {
		return w.tx.InsertMission(ctx, m)
	})
	if err != nil {
		return eris.Wrapf(err, "vsa: write mission %s", m.Key())
	}
	m.ID = id
	return nil
}
