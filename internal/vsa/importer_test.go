package vsa

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/store"
)

var vsaHeader = []string{
	ColUserID, ColCode, ColOrderID, ColClient, ColDateStart, ColDateEnd, ColTJM, ColCJM, ColDescription,
}

// vsaRow builds a data row in vsaHeader order.
func vsaRow(userID, code, start, description string) []string {
	return []string{userID, code, "CMD-" + code, "Client " + code, start, "", "650", "400", description}
}

func writeCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vsa.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(vsaHeader))
	require.NoError(t, w.WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}

func newTestStore(t *testing.T, consultantIDs ...int64) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "consultator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	if len(consultantIDs) > 0 {
		cs := make([]model.Consultant, len(consultantIDs))
		for i, id := range consultantIDs {
			cs[i] = model.Consultant{ID: id, FirstName: "Consultant", LastName: fmt.Sprint(id), Active: true}
		}
		_, err := st.UpsertConsultants(context.Background(), cs)
		require.NoError(t, err)
	}
	return st
}

func runImport(t *testing.T, st store.Store, path string, dryRun bool) *Summary {
	t.Helper()
	im := NewImporter(st, fastRetry())
	summary, err := im.Run(context.Background(), Options{File: path, Sheet: "Mission", DryRun: dryRun, MaxErrorsShown: 10})
	require.NoError(t, err)
	return summary
}

func persistedMissions(t *testing.T, st store.Store) []model.Mission {
	t.Helper()
	missions, err := st.ListMissions(context.Background(), model.MissionFilter{Limit: 100_000})
	require.NoError(t, err)
	return missions
}

// --- regression scenarios ---

func TestImport_SameCodeDistinctStartDates(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("1", "AFFAS263", "2023-02-01", "Phase 1"),
		vsaRow("1", "AFFAS263", "2023-06-01", "Phase 2"),
		vsaRow("1", "AFFAS263", "2023-10-01", "Phase 3"),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Imported)
	assert.Zero(t, s.Skipped)
	assert.Zero(t, s.Errors)

	missions := persistedMissions(t, st)
	require.Len(t, missions, 3)
	var starts []string
	for _, m := range missions {
		assert.Equal(t, "AFFAS263", m.Code)
		starts = append(starts, model.FormatDate(m.DateStart))
	}
	assert.Equal(t, []string{"2023-02-01", "2023-06-01", "2023-10-01"}, starts)
}

func TestImport_ExactDuplicateFirstOccurrenceWins(t *testing.T) {
	st := newTestStore(t, 789)
	path := writeCSV(t, [][]string{
		vsaRow("789", "TEST123", "2023-01-01", "Original"),
		vsaRow("789", "TEST123", "2023-01-01", "Doublon exact avec description différente"),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 1, s.Imported)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Duplicates)

	missions := persistedMissions(t, st)
	require.Len(t, missions, 1)
	assert.Equal(t, "Original", missions[0].Description)
}

func TestImport_SameCodeDifferentConsultants(t *testing.T) {
	st := newTestStore(t, 100, 200)
	path := writeCSV(t, [][]string{
		vsaRow("100", "SHARED001", "2023-01-01", ""),
		vsaRow("200", "SHARED001", "2023-01-01", ""),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 2, s.Imported)
	assert.Zero(t, s.Skipped)

	missions := persistedMissions(t, st)
	require.Len(t, missions, 2)
	assert.Equal(t, int64(100), missions[0].ConsultantID)
	assert.Equal(t, int64(200), missions[1].ConsultantID)
}

func TestImport_ValidationErrors(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("", "NOUSER", "2023-01-01", ""),
		vsaRow("1", "BADDATE", "invalid-date", ""),
		vsaRow("1", "GOOD", "2023-01-01", ""),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Imported)
	assert.Equal(t, 2, s.Errors)
	require.Len(t, s.ErrorReasons, 2)
	assert.Contains(t, s.ErrorReasons[0], "ligne 2")
	assert.Contains(t, s.ErrorReasons[0], "champs requis manquants")
	assert.Contains(t, s.ErrorReasons[1], "ligne 3")
	assert.Contains(t, s.ErrorReasons[1], "format de date invalide")

	missions := persistedMissions(t, st)
	require.Len(t, missions, 1)
	assert.Equal(t, "GOOD", missions[0].Code)
}

func TestImport_LargeDatasetIsFast(t *testing.T) {
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	st := newTestStore(t, ids...)

	rows := make([][]string, 1000)
	distinct := make(map[model.MissionKey]struct{})
	for i := range rows {
		code := fmt.Sprintf("CODE%03d", i%100)
		consultant := i%50 + 1
		start := fmt.Sprintf("2023-%02d-01", i%12+1)
		rows[i] = vsaRow(fmt.Sprint(consultant), code, start, "")
		distinct[model.MissionKey{Code: code, ConsultantID: int64(consultant), DateStart: start}] = struct{}{}
	}
	path := writeCSV(t, rows)

	begin := time.Now()
	s := runImport(t, st, path, false)
	elapsed := time.Since(begin)

	assert.Equal(t, 1000, s.Total)
	assert.Equal(t, len(distinct), s.Imported)
	assert.Equal(t, 1000-len(distinct), s.Duplicates)
	assert.Less(t, elapsed, 10*time.Second)
}

// --- properties ---

func TestImport_UnknownConsultantSkipped(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("1", "KNOWN", "2024-01-01", ""),
		vsaRow("404", "ORPHAN", "2024-01-01", ""),
		vsaRow("404", "ORPHAN", "2024-02-01", ""),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 1, s.Imported)
	assert.Zero(t, s.Errors)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, 2, s.NotFound)

	for _, m := range persistedMissions(t, st) {
		assert.NotEqual(t, int64(404), m.ConsultantID)
	}
}

func TestImport_Idempotent(t *testing.T) {
	st := newTestStore(t, 1, 2)
	path := writeCSV(t, [][]string{
		vsaRow("1", "A", "2024-01-01", ""),
		vsaRow("1", "A", "2024-02-01", ""),
		vsaRow("2", "A", "2024-01-01", ""),
	})

	first := runImport(t, st, path, false)
	assert.Equal(t, 3, first.Imported)

	second := runImport(t, st, path, false)
	assert.Zero(t, second.Imported)
	assert.Equal(t, 3, second.Duplicates)
	assert.Len(t, persistedMissions(t, st), 3)
}

func TestImport_RowsWithoutStartDateAlwaysNew(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("1", "NODATE", "", "first"),
		vsaRow("1", "NODATE", "", "second"),
	})

	s := runImport(t, st, path, false)
	assert.Equal(t, 2, s.Imported)
	assert.Len(t, persistedMissions(t, st), 2)
}

func TestImport_RandomInputKeepsKeysUnique(t *testing.T) {
	st := newTestStore(t, 1, 2, 3)
	rng := rand.New(rand.NewPCG(42, 7))

	var rows [][]string
	for range 300 {
		userID := fmt.Sprint(rng.IntN(5)) // 0 and 4 are invalid or unknown
		if rng.IntN(10) == 0 {
			userID = ""
		}
		code := fmt.Sprintf("C%d", rng.IntN(6))
		start := fmt.Sprintf("2024-%02d-01", rng.IntN(4)+1)
		rows = append(rows, vsaRow(userID, code, start, fmt.Sprint(rng.Int())))
	}
	path := writeCSV(t, rows)

	s := runImport(t, st, path, false)
	assert.Equal(t, s.Total, s.Imported+s.Errors+s.Skipped)

	missions := persistedMissions(t, st)
	assert.Len(t, missions, s.Imported)

	seen := make(map[model.MissionKey]bool)
	for _, m := range missions {
		k := m.Key()
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
		assert.Contains(t, []int64{1, 2, 3}, m.ConsultantID)
		assert.NotEmpty(t, m.Code)
		assert.NotEmpty(t, m.OrderID)
		assert.NotEmpty(t, m.ClientName)
	}
}

func TestImport_ReorderingChangesSurvivor(t *testing.T) {
	rows := [][]string{
		vsaRow("1", "ORDER", "2024-01-01", "premier"),
		vsaRow("1", "ORDER", "2024-01-01", "second"),
	}

	st := newTestStore(t, 1)
	runImport(t, st, writeCSV(t, rows), false)
	assert.Equal(t, "premier", persistedMissions(t, st)[0].Description)

	reversed := newTestStore(t, 1)
	runImport(t, reversed, writeCSV(t, [][]string{rows[1], rows[0]}), false)
	assert.Equal(t, "second", persistedMissions(t, reversed)[0].Description)
}

// --- run lifecycle ---

func TestImport_DryRunWritesNothing(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{vsaRow("1", "DRY", "2024-01-01", "")})

	s := runImport(t, st, path, true)
	assert.True(t, s.DryRun)
	assert.Equal(t, 1, s.Imported)
	assert.Empty(t, persistedMissions(t, st))

	run, err := st.GetImportRun(context.Background(), s.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	assert.Equal(t, model.ImportRunStatusComplete, run.Status)
}

func TestImport_RecordsRun(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("1", "A", "2024-01-01", ""),
		vsaRow("1", "A", "2024-01-01", ""),
	})

	s := runImport(t, st, path, false)
	require.NotEmpty(t, s.RunID)

	run, err := st.GetImportRun(context.Background(), s.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportRunStatusComplete, run.Status)
	assert.Equal(t, path, run.File)
	assert.Equal(t, s.Counts(), run.Counts)
	assert.NotNil(t, run.CompletedAt)

	missions := persistedMissions(t, st)
	require.Len(t, missions, 1)
	assert.Equal(t, s.RunID, missions[0].ImportRunID)
}

func TestImport_MissingColumnsFails(t *testing.T) {
	st := newTestStore(t, 1)
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_id,code,Orderid,name\n1,X,O,C\n"), 0o644))

	im := NewImporter(st, fastRetry())
	s, err := im.Run(context.Background(), Options{File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colonnes manquantes")
	assert.Contains(t, err.Error(), "Code")
	assert.Contains(t, err.Error(), "date_debut")

	run, gerr := st.GetImportRun(context.Background(), s.RunID)
	require.NoError(t, gerr)
	assert.Equal(t, model.ImportRunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "colonnes manquantes")
}

func TestImport_MissingFileFails(t *testing.T) {
	st := newTestStore(t)
	im := NewImporter(st, fastRetry())
	_, err := im.Run(context.Background(), Options{File: filepath.Join(t.TempDir(), "absent.xlsx"), Sheet: "Mission"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vsa: read")
}

func TestImport_NoFile(t *testing.T) {
	im := NewImporter(newTestStore(t), fastRetry())
	_, err := im.Run(context.Background(), Options{})
	require.Error(t, err)
}

func TestImport_CancelledRollsBack(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{vsaRow("1", "A", "2024-01-01", "")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	im := NewImporter(st, fastRetry())
	_, err := im.Run(ctx, Options{File: path})
	require.Error(t, err)
	assert.Empty(t, persistedMissions(t, st))
}

func TestImport_XLSX(t *testing.T) {
	st := newTestStore(t, 42)

	f := xlsx.NewFile()
	sh, err := f.AddSheet("Mission")
	require.NoError(t, err)
	header := sh.AddRow()
	for _, h := range vsaHeader {
		header.AddCell().SetString(h)
	}
	row := sh.AddRow()
	row.AddCell().SetInt(42)
	row.AddCell().SetString("AFFAS263")
	row.AddCell().SetString("CMD-1")
	row.AddCell().SetString("Banque")
	row.AddCell().SetDate(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
	row.AddCell().SetString("")
	row.AddCell().SetFloat(650.5)
	row.AddCell().SetString("")
	row.AddCell().SetString("Audit")

	path := filepath.Join(t.TempDir(), "VSA_missions.xlsx")
	require.NoError(t, f.Save(path))

	s := runImport(t, st, path, false)
	assert.Equal(t, 1, s.Imported)

	missions := persistedMissions(t, st)
	require.Len(t, missions, 1)
	assert.Equal(t, "2023-02-01", model.FormatDate(missions[0].DateStart))
	require.NotNil(t, missions[0].DailyRate)
	assert.Equal(t, "650.5", missions[0].DailyRate.String())
}

// --- persistence failures ---

// faultyTx fails the first failInserts inserts with a non-transient error
// and, when commitErr is set, refuses to commit.
type faultyTx struct {
	store.MissionTx
	failInserts int
	commitErr   error
}

func (f *faultyTx) InsertMission(ctx context.Context, m *model.Mission) (int64, error) {
	if f.failInserts > 0 {
		f.failInserts--
		return 0, errors.New("disk full")
	}
	return f.MissionTx.InsertMission(ctx, m)
}

func (f *faultyTx) Commit(ctx context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	return f.MissionTx.Commit(ctx)
}

// wrappedStore decorates the mission transaction and can hide the persisted
// key set, as a concurrent run that committed after the key load would.
type wrappedStore struct {
	store.Store
	wrapTx   func(store.MissionTx) store.MissionTx
	hideKeys bool
}

func (w *wrappedStore) ListMissionKeys(ctx context.Context) ([]model.MissionKey, error) {
	if w.hideKeys {
		return nil, nil
	}
	return w.Store.ListMissionKeys(ctx)
}

func (w *wrappedStore) BeginMissions(ctx context.Context) (store.MissionTx, error) {
	tx, err := w.Store.BeginMissions(ctx)
	if err != nil || w.wrapTx == nil {
		return tx, err
	}
	return w.wrapTx(tx), nil
}

func TestImport_WriteFailureIsolatedToRow(t *testing.T) {
	st := newTestStore(t, 1)
	ws := &wrappedStore{Store: st, wrapTx: func(tx store.MissionTx) store.MissionTx {
		return &faultyTx{MissionTx: tx, failInserts: 1}
	}}
	path := writeCSV(t, [][]string{
		vsaRow("1", "A", "2024-01-01", "first"),
		vsaRow("1", "A", "2024-01-01", "second"),
		vsaRow("1", "B", "2024-01-01", ""),
	})

	s := runImport(t, ws, path, false)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Imported)
	assert.Equal(t, 1, s.Errors)
	assert.Zero(t, s.Duplicates)
	require.Len(t, s.ErrorReasons, 1)
	assert.Contains(t, s.ErrorReasons[0], "ligne 2")
	assert.Contains(t, s.ErrorReasons[0], "disk full")

	// The failed write released its key, so the next row with it was kept.
	missions := persistedMissions(t, st)
	require.Len(t, missions, 2)
	assert.Equal(t, "A", missions[0].Code)
	assert.Equal(t, "second", missions[0].Description)
	assert.Equal(t, "B", missions[1].Code)
}

func TestImport_UniqueIndexCountsAsDuplicate(t *testing.T) {
	st := newTestStore(t, 1)
	path := writeCSV(t, [][]string{
		vsaRow("1", "A", "2024-01-01", ""),
		vsaRow("1", "B", "2024-01-01", ""),
	})
	first := runImport(t, st, path, false)
	require.Equal(t, 2, first.Imported)

	s := runImport(t, &wrappedStore{Store: st, hideKeys: true}, path, false)
	assert.Zero(t, s.Imported)
	assert.Equal(t, 2, s.Duplicates)
	assert.Equal(t, 2, s.Skipped)
	assert.Zero(t, s.Errors)
	assert.Len(t, persistedMissions(t, st), 2)
}

func TestImport_CommitFailureRollsBack(t *testing.T) {
	st := newTestStore(t, 1)
	ws := &wrappedStore{Store: st, wrapTx: func(tx store.MissionTx) store.MissionTx {
		return &faultyTx{MissionTx: tx, commitErr: errors.New("disk I/O error")}
	}}
	path := writeCSV(t, [][]string{vsaRow("1", "A", "2024-01-01", "")})

	im := NewImporter(ws, fastRetry())
	s, err := im.Run(context.Background(), Options{File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vsa: commit")

	assert.True(t, s.Failed)
	assert.Zero(t, s.Imported)
	assert.Equal(t, 1, s.RolledBack)
	assert.Empty(t, persistedMissions(t, st))

	run, gerr := st.GetImportRun(context.Background(), s.RunID)
	require.NoError(t, gerr)
	assert.Equal(t, model.ImportRunStatusFailed, run.Status)
	assert.Zero(t, run.Counts.Imported)
}
