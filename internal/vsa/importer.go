package vsa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/resilience"
	"github.com/sells-group/consultator/internal/sheet"
	"github.com/sells-group/consultator/internal/store"
)

// Options configures one import run.
type Options struct {
	File           string
	Sheet          string
	CSVEncoding    string
	DryRun         bool
	MaxErrorsShown int
}

// Importer runs the VSA mission import against a store.
type Importer struct {
	store store.Store
	retry resilience.RetryConfig
	newID func() string
}

// NewImporter creates an Importer. retry governs transient storage errors
// on consultant lookups and mission inserts.
func NewImporter(st store.Store, retry resilience.RetryConfig) *Importer {
	return &Importer{store: st, retry: retry, newID: uuid.NewString}
}

// Run reads the sheet and imports its rows in source order inside a single
// transaction, committed once at the end (rolled back on dry run). Row-level
// failures are tallied in the Summary; the returned error is reserved for
// failures that stop the whole run.
func (im *Importer) Run(ctx context.Context, opts Options) (*Summary, error) {
	if strings.TrimSpace(opts.File) == "" {
		return nil, eris.New("vsa: no input file")
	}

	run := &model.ImportRun{
		ID:     im.newID(),
		File:   opts.File,
		Sheet:  opts.Sheet,
		DryRun: opts.DryRun,
	}
	log := zap.L().With(
		zap.String("component", "vsa.importer"),
		zap.String("run_id", run.ID),
	)

	if err := im.store.CreateImportRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "vsa: record import run")
	}
	log.Info("starting import",
		zap.String("file", opts.File),
		zap.String("sheet", opts.Sheet),
		zap.Bool("dry_run", opts.DryRun),
	)

	start := time.Now()
	summary, err := im.run(ctx, run, opts, log)
	summary.RunID = run.ID
	summary.File = opts.File
	summary.DryRun = opts.DryRun
	summary.MaxErrorsShown = opts.MaxErrorsShown

	status, errMsg := model.ImportRunStatusComplete, ""
	if err != nil {
		summary.fail(err)
		status, errMsg = model.ImportRunStatusFailed, err.Error()
	}
	// Record the outcome even when ctx was cancelled.
	if ferr := im.store.FinishImportRun(context.WithoutCancel(ctx), run.ID, status, summary.Counts(), errMsg); ferr != nil {
		log.Error("failed to record import run outcome", zap.Error(ferr))
	}

	if err != nil {
		log.Error("import failed", zap.Error(err), zap.Int("rows_processed", summary.Total))
		return summary, err
	}

	log.Info("import complete",
		zap.Int("total", summary.Total),
		zap.Int("imported", summary.Imported),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("not_found", summary.NotFound),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func (im *Importer) run(ctx context.Context, run *model.ImportRun, opts Options, log *zap.Logger) (*Summary, error) {
	summary := &Summary{}

	// The sheet and the persisted key set are independent reads. The key
	// set is loaded once; the unique index covers writes racing with
	// another run.
	var (
		table *sheet.Table
		keys  []model.MissionKey
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := sheet.Open(gctx, opts.File, sheet.Options{Sheet: opts.Sheet, CSVEncoding: opts.CSVEncoding})
		if err != nil {
			return eris.Wrapf(err, "vsa: read %s", opts.File)
		}
		if missing := t.Missing(HeaderColumns...); len(missing) > 0 {
			return eris.Errorf("vsa: colonnes manquantes dans %s: %s", opts.File, strings.Join(missing, ", "))
		}
		table = t
		return nil
	})
	g.Go(func() error {
		k, err := im.store.ListMissionKeys(gctx)
		if err != nil {
			return eris.Wrap(err, "vsa: load existing mission keys")
		}
		keys = k
		return nil
	})
	if err := g.Wait(); err != nil {
		return summary, err
	}

	guard := NewGuard(keys)
	resolver := NewResolver(im.store, im.retry)
	log.Debug("loaded existing keys", zap.Int("keys", guard.Len()), zap.Int("rows", len(table.Rows)))

	tx, err := im.store.BeginMissions(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "vsa: begin transaction")
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck
	writer := NewWriter(tx, im.retry, run.ID)

	for _, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "vsa: import cancelled")
		}
		summary.Total++

		m, err := ValidateRow(row)
		if err != nil {
			log.Debug("row rejected", zap.Int("line", row.Line), zap.Error(err))
			summary.recordError(err.Error())
			continue
		}

		if _, err := resolver.Resolve(ctx, m.ConsultantID); err != nil {
			if errors.Is(err, ErrConsultantNotFound) {
				log.Debug("consultant not found", zap.Int("line", row.Line), zap.Int64("consultant_id", m.ConsultantID))
				summary.recordNotFound()
				continue
			}
			if ctx.Err() != nil {
				return summary, eris.Wrap(ctx.Err(), "vsa: import cancelled")
			}
			log.Warn("consultant lookup failed", zap.Int("line", row.Line), zap.Error(err))
			summary.recordError(rowReason(row.Line, err))
			continue
		}

		key := m.Key()
		if !guard.Admit(key) {
			log.Debug("duplicate mission", zap.Int("line", row.Line), zap.Stringer("key", key))
			summary.recordDuplicate()
			continue
		}

		if err := writer.Write(ctx, m); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				log.Debug("duplicate mission rejected by storage", zap.Int("line", row.Line), zap.Stringer("key", key))
				summary.recordDuplicate()
				continue
			}
			if ctx.Err() != nil {
				return summary, eris.Wrap(ctx.Err(), "vsa: import cancelled")
			}
			guard.Forget(key)
			log.Warn("mission write failed", zap.Int("line", row.Line), zap.Error(err))
			summary.recordError(rowReason(row.Line, err))
			continue
		}
		summary.recordImported()
	}

	if opts.DryRun {
		if err := tx.Rollback(ctx); err != nil {
			return summary, eris.Wrap(err, "vsa: dry run rollback")
		}
		return summary, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return summary, eris.Wrap(err, "vsa: commit")
	}
	return summary, nil
}

func rowReason(line int, err error) string {
	return fmt.Sprintf("ligne %d: %v", line, err)
}
