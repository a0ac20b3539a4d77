package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/consultator/internal/db"
	"github.com/sells-group/consultator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const pgUniqueViolation = "23505"

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS consultants (
	id         BIGINT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	practice   TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS missions (
	id            BIGSERIAL PRIMARY KEY,
	consultant_id BIGINT NOT NULL REFERENCES consultants(id),
	code          TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	client_name   TEXT NOT NULL,
	date_start    DATE,
	date_end      DATE,
	daily_rate    NUMERIC(12,2),
	daily_cost    NUMERIC(12,2),
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'en_cours',
	source        TEXT NOT NULL DEFAULT 'vsa',
	import_run_id TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_missions_dedup ON missions(code, consultant_id, date_start);
CREATE INDEX IF NOT EXISTS idx_missions_consultant ON missions(consultant_id);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	file         TEXT NOT NULL,
	sheet        TEXT NOT NULL DEFAULT '',
	dry_run      BOOLEAN NOT NULL DEFAULT false,
	status       TEXT NOT NULL DEFAULT 'running',
	counts       JSONB NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_import_runs_started_at ON import_runs(started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- consultants --

func (s *PostgresStore) GetConsultant(ctx context.Context, id int64) (*model.Consultant, error) {
	var c model.Consultant
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, practice, active, created_at FROM consultants WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Practice, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "consultant %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get consultant %d", id)
	}
	return &c, nil
}

// UpsertConsultants bulk loads the roster through COPY and merges it on id.
func (s *PostgresStore) UpsertConsultants(ctx context.Context, consultants []model.Consultant) (int64, error) {
	rows := make([][]any, len(consultants))
	for i, c := range consultants {
		rows[i] = []any{c.ID, c.FirstName, c.LastName, c.Email, c.Practice, c.Active}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "consultants",
		Columns:      []string{"id", "first_name", "last_name", "email", "practice", "active"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert consultants")
	}
	return n, nil
}

func (s *PostgresStore) ListConsultants(ctx context.Context) ([]model.Consultant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, first_name, last_name, email, practice, active, created_at FROM consultants ORDER BY last_name, first_name, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consultants")
	}
	defer rows.Close()

	var out []model.Consultant
	for rows.Next() {
		var c model.Consultant
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Practice, &c.Active, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consultant")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list consultants iterate")
}

// -- missions --

func (s *PostgresStore) ListMissionKeys(ctx context.Context) ([]model.MissionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, consultant_id, COALESCE(to_char(date_start, 'YYYY-MM-DD'), '') FROM missions`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mission keys")
	}
	defer rows.Close()

	var keys []model.MissionKey
	for rows.Next() {
		var k model.MissionKey
		if err := rows.Scan(&k.Code, &k.ConsultantID, &k.DateStart); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mission key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list mission keys iterate")
}

func (s *PostgresStore) ListMissions(ctx context.Context, filter model.MissionFilter) ([]model.Mission, error) {
	query := `SELECT id, consultant_id, code, order_id, client_name,
		to_char(date_start, 'YYYY-MM-DD'), to_char(date_end, 'YYYY-MM-DD'),
		daily_rate::text, daily_cost::text, description, status, source, import_run_id, created_at
		FROM missions WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.ConsultantID > 0 {
		query += fmt.Sprintf(" AND consultant_id = $%d", argIdx)
		args = append(args, filter.ConsultantID)
		argIdx++
	}
	if filter.Code != "" {
		query += fmt.Sprintf(" AND code = $%d", argIdx)
		args = append(args, filter.Code)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY consultant_id, code, date_start, id LIMIT $%d", argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list missions")
	}
	defer rows.Close()

	var missions []model.Mission
	for rows.Next() {
		var (
			m                    model.Mission
			dateStart, dateEnd   *string
			dailyRate, dailyCost *string
			importRunID          *string
			status               string
		)
		if err := rows.Scan(&m.ID, &m.ConsultantID, &m.Code, &m.OrderID, &m.ClientName, &dateStart, &dateEnd,
			&dailyRate, &dailyCost, &m.Description, &status, &m.Source, &importRunID, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mission")
		}
		m.Status = model.MissionStatus(status)
		if importRunID != nil {
			m.ImportRunID = *importRunID
		}
		if m.DateStart, err = parseDateColumn(dateStart); err != nil {
			return nil, eris.Wrapf(err, "postgres: mission %d date_start", m.ID)
		}
		if m.DateEnd, err = parseDateColumn(dateEnd); err != nil {
			return nil, eris.Wrapf(err, "postgres: mission %d date_end", m.ID)
		}
		if m.DailyRate, err = parseDecimalColumn(dailyRate); err != nil {
			return nil, eris.Wrapf(err, "postgres: mission %d daily_rate", m.ID)
		}
		if m.DailyCost, err = parseDecimalColumn(dailyCost); err != nil {
			return nil, eris.Wrapf(err, "postgres: mission %d daily_cost", m.ID)
		}
		missions = append(missions, m)
	}
	return missions, eris.Wrap(rows.Err(), "postgres: list missions iterate")
}

func (s *PostgresStore) BeginMissions(ctx context.Context) (MissionTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin missions tx")
	}
	return &pgMissionTx{tx: tx}, nil
}

type pgMissionTx struct {
	tx pgx.Tx
}

func (t *pgMissionTx) InsertMission(ctx context.Context, m *model.Mission) (int64, error) {
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return 0, eris.Wrap(err, "postgres: savepoint")
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var importRunID *string
	if m.ImportRunID != "" {
		importRunID = &m.ImportRunID
	}

	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO missions (consultant_id, code, order_id, client_name, date_start, date_end,
			daily_rate, daily_cost, description, status, source, import_run_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		m.ConsultantID, m.Code, m.OrderID, m.ClientName, pgDate(m.DateStart), pgDate(m.DateEnd),
		decimalArg(m.DailyRate), decimalArg(m.DailyCost), m.Description, string(m.Status), m.Source,
		importRunID, createdAt,
	).Scan(&id)
	if err != nil {
		// ROLLBACK TO keeps the savepoint open; release it so failed rows
		// do not pile up on the savepoint stack.
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return 0, eris.Wrap(rbErr, "postgres: rollback to savepoint")
		}
		if _, relErr := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); relErr != nil {
			return 0, eris.Wrap(relErr, "postgres: release savepoint")
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, eris.Wrapf(ErrDuplicate, "mission %s", m.Key())
		}
		return 0, eris.Wrapf(err, "postgres: insert mission %s", m.Key())
	}

	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return 0, eris.Wrap(err, "postgres: release savepoint")
	}
	return id, nil
}

func (t *pgMissionTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit missions")
}

func (t *pgMissionTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback missions")
}

// -- import runs --

func (s *PostgresStore) CreateImportRun(ctx context.Context, run *model.ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.ImportRunStatusRunning
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, file, sheet, dry_run, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.File, run.Sheet, run.DryRun, string(run.Status), run.StartedAt,
	)
	return eris.Wrapf(err, "postgres: insert import run %s", run.ID)
}

func (s *PostgresStore) FinishImportRun(ctx context.Context, id string, status model.ImportRunStatus, counts model.ImportCounts, errMsg string) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal import counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_runs SET status = $1, counts = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), countsJSON, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish import run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "import run %s", id)
	}
	return nil
}

func (s *PostgresStore) GetImportRun(ctx context.Context, id string) (*model.ImportRun, error) {
	run, err := scanPgImportRun(s.pool.QueryRow(ctx,
		`SELECT id, file, sheet, dry_run, status, counts, error, started_at, completed_at FROM import_runs WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "import run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get import run %s", id)
	}
	return run, nil
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, file, sheet, dry_run, status, counts, error, started_at, completed_at
		 FROM import_runs ORDER BY started_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		r, err := scanPgImportRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan import run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list import runs iterate")
}

func scanPgImportRun(row pgx.Row) (*model.ImportRun, error) {
	var (
		r          model.ImportRun
		status     string
		countsJSON []byte
	)
	if err := row.Scan(&r.ID, &r.File, &r.Sheet, &r.DryRun, &status, &countsJSON, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Status = model.ImportRunStatus(status)
	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal import counts")
		}
	}
	return &r, nil
}

func pgDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
