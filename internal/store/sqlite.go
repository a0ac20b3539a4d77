package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/consultator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=foreign_keys(1)",
	"_txlock=immediate",
}

// NewSQLite opens a SQLite database at the given path in WAL mode with
// foreign keys enforced.
func NewSQLite(path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+strings.Join(sqlitePragmas, "&"))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS consultants (
	id         INTEGER PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	practice   TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS missions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	consultant_id INTEGER NOT NULL REFERENCES consultants(id),
	code          TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	client_name   TEXT NOT NULL,
	date_start    TEXT,
	date_end      TEXT,
	daily_rate    TEXT,
	daily_cost    TEXT,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'en_cours',
	source        TEXT NOT NULL DEFAULT 'vsa',
	import_run_id TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_missions_dedup ON missions(code, consultant_id, date_start);
CREATE INDEX IF NOT EXISTS idx_missions_consultant ON missions(consultant_id);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	file         TEXT NOT NULL,
	sheet        TEXT NOT NULL DEFAULT '',
	dry_run      INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'running',
	counts       TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- consultants --

func (s *SQLiteStore) GetConsultant(ctx context.Context, id int64) (*model.Consultant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, practice, active, created_at FROM consultants WHERE id = ?`,
		id,
	)
	c, err := scanConsultant(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "consultant %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get consultant %d", id)
	}
	return c, nil
}

func (s *SQLiteStore) UpsertConsultants(ctx context.Context, consultants []model.Consultant) (int64, error) {
	if len(consultants) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert consultants")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO consultants (id, first_name, last_name, email, practice, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = excluded.first_name,
		   last_name  = excluded.last_name,
		   email      = excluded.email,
		   practice   = excluded.practice,
		   active     = excluded.active`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert consultant")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, c := range consultants {
		res, err := stmt.ExecContext(ctx, c.ID, c.FirstName, c.LastName, c.Email, c.Practice, c.Active)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert consultant %d", c.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert consultants")
	}
	return n, nil
}

func (s *SQLiteStore) ListConsultants(ctx context.Context) ([]model.Consultant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_name, last_name, email, practice, active, created_at FROM consultants ORDER BY last_name, first_name, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consultants")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Consultant
	for rows.Next() {
		c, err := scanConsultant(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consultant")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list consultants iterate")
}

// -- missions --

func (s *SQLiteStore) ListMissionKeys(ctx context.Context) ([]model.MissionKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, consultant_id, date_start FROM missions`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mission keys")
	}
	defer rows.Close() //nolint:errcheck

	var keys []model.MissionKey
	for rows.Next() {
		var k model.MissionKey
		var dateStart sql.NullString
		if err := rows.Scan(&k.Code, &k.ConsultantID, &dateStart); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mission key")
		}
		k.DateStart = dateStart.String
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list mission keys iterate")
}

func (s *SQLiteStore) ListMissions(ctx context.Context, filter model.MissionFilter) ([]model.Mission, error) {
	query := `SELECT id, consultant_id, code, order_id, client_name, date_start, date_end,
		daily_rate, daily_cost, description, status, source, import_run_id, created_at
		FROM missions WHERE 1=1`
	var args []any

	if filter.ConsultantID > 0 {
		query += ` AND consultant_id = ?`
		args = append(args, filter.ConsultantID)
	}
	if filter.Code != "" {
		query += ` AND code = ?`
		args = append(args, filter.Code)
	}
	query += ` ORDER BY consultant_id, code, date_start, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list missions")
	}
	defer rows.Close() //nolint:errcheck

	var missions []model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, *m)
	}
	return missions, eris.Wrap(rows.Err(), "sqlite: list missions iterate")
}

func (s *SQLiteStore) BeginMissions(ctx context.Context) (MissionTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin missions tx")
	}
	return &sqliteMissionTx{tx: tx}, nil
}

type sqliteMissionTx struct {
	tx *sql.Tx
}

func (t *sqliteMissionTx) InsertMission(ctx context.Context, m *model.Mission) (int64, error) {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+savepointName); err != nil {
		return 0, eris.Wrap(err, "sqlite: savepoint")
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO missions (consultant_id, code, order_id, client_name, date_start, date_end,
			daily_rate, daily_cost, description, status, source, import_run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConsultantID, m.Code, m.OrderID, m.ClientName, dateArg(m.DateStart), dateArg(m.DateEnd),
		decimalArg(m.DailyRate), decimalArg(m.DailyCost), m.Description, string(m.Status), m.Source,
		nullString(m.ImportRunID), createdAt,
	)
	if err != nil {
		// ROLLBACK TO keeps the savepoint open; release it so failed rows
		// do not pile up on the savepoint stack.
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return 0, eris.Wrap(rbErr, "sqlite: rollback to savepoint")
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); relErr != nil {
			return 0, eris.Wrap(relErr, "sqlite: release savepoint")
		}
		if isSQLiteUnique(err) {
			return 0, eris.Wrapf(ErrDuplicate, "mission %s", m.Key())
		}
		return 0, eris.Wrapf(err, "sqlite: insert mission %s", m.Key())
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return 0, eris.Wrap(err, "sqlite: release savepoint")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	return id, nil
}

func (t *sqliteMissionTx) Commit(_ context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit missions")
}

func (t *sqliteMissionTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return eris.Wrap(err, "sqlite: rollback missions")
}

// -- import runs --

func (s *SQLiteStore) CreateImportRun(ctx context.Context, run *model.ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.ImportRunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (id, file, sheet, dry_run, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.File, run.Sheet, run.DryRun, string(run.Status), run.StartedAt,
	)
	return eris.Wrapf(err, "sqlite: insert import run %s", run.ID)
}

func (s *SQLiteStore) FinishImportRun(ctx context.Context, id string, status model.ImportRunStatus, counts model.ImportCounts, errMsg string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal import counts")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_runs SET status = ?, counts = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(countsJSON), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish import run %s", id)
	}
	return checkRowsAffected(res, "import run", id)
}

func (s *SQLiteStore) GetImportRun(ctx context.Context, id string) (*model.ImportRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file, sheet, dry_run, status, counts, error, started_at, completed_at FROM import_runs WHERE id = ?`,
		id,
	)
	run, err := scanImportRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "import run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get import run %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file, sheet, dry_run, status, counts, error, started_at, completed_at
		 FROM import_runs ORDER BY started_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.ImportRun
	for rows.Next() {
		r, err := scanImportRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list import runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConsultant(row scannable) (*model.Consultant, error) {
	var c model.Consultant
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Practice, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMission(row scannable) (*model.Mission, error) {
	var (
		m                    model.Mission
		dateStart, dateEnd   sql.NullString
		dailyRate, dailyCost sql.NullString
		importRunID          sql.NullString
		status               string
	)
	err := row.Scan(&m.ID, &m.ConsultantID, &m.Code, &m.OrderID, &m.ClientName, &dateStart, &dateEnd,
		&dailyRate, &dailyCost, &m.Description, &status, &m.Source, &importRunID, &m.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan mission")
	}
	m.Status = model.MissionStatus(status)
	m.ImportRunID = importRunID.String

	if m.DateStart, err = parseDateColumn(nullPtr(dateStart)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mission %d date_start", m.ID)
	}
	if m.DateEnd, err = parseDateColumn(nullPtr(dateEnd)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mission %d date_end", m.ID)
	}
	if m.DailyRate, err = parseDecimalColumn(nullPtr(dailyRate)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mission %d daily_rate", m.ID)
	}
	if m.DailyCost, err = parseDecimalColumn(nullPtr(dailyCost)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: mission %d daily_cost", m.ID)
	}
	return &m, nil
}

func scanImportRun(row scannable) (*model.ImportRun, error) {
	var (
		r           model.ImportRun
		status      string
		countsJSON  string
		completedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.File, &r.Sheet, &r.DryRun, &status, &countsJSON, &r.Error, &r.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	r.Status = model.ImportRunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(countsJSON), &r.Counts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal import counts")
	}
	return &r, nil
}

func nullPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
