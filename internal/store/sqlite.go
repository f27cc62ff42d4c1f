package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/grant-scorer/internal/model"
)

// Fixed-width UTC timestamps so created_at sorts and compares as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	decision   TEXT NOT NULL,
	applicant  TEXT NOT NULL,
	result     TEXT NOT NULL,
	use_ml     INTEGER NOT NULL,
	threshold  REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, rec *model.DecisionRecord) error {
	stampRecord(rec)

	applicantJSON, resultJSON, err := marshalRecord(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal decision")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, decision, applicant, result, use_ml, threshold, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Result.Decision), string(applicantJSON), string(resultJSON),
		rec.UseML, rec.Threshold, rec.CreatedAt.Format(sqliteTimeLayout),
	)
	return eris.Wrap(err, "sqlite: insert decision")
}

func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, applicant, result, use_ml, threshold, created_at FROM decisions WHERE id = ?`,
		id,
	)
	rec, err := scanSQLiteDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get decision %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get decision %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]model.DecisionRecord, error) {
	query := `SELECT id, applicant, result, use_ml, threshold, created_at FROM decisions WHERE 1=1`
	var args []any

	if filter.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(filter.Decision))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC().Format(sqliteTimeLayout))
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.CreatedBefore.UTC().Format(sqliteTimeLayout))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, effectiveLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var out []model.DecisionRecord
	for rows.Next() {
		rec, err := scanSQLiteDecision(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteDecision(row scannable) (*model.DecisionRecord, error) {
	var (
		rec                    model.DecisionRecord
		applicantJSON, resJSON string
		createdAt              string
	)
	if err := row.Scan(&rec.ID, &applicantJSON, &resJSON, &rec.UseML, &rec.Threshold, &createdAt); err != nil {
		return nil, err
	}

	ts, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	rec.CreatedAt = ts

	if err := unmarshalRecord(&rec, []byte(applicantJSON), []byte(resJSON)); err != nil {
		return nil, err
	}
	return &rec, nil
}

// stampRecord fills ID and CreatedAt when the caller left them empty.
func stampRecord(rec *model.DecisionRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
}

func marshalRecord(rec *model.DecisionRecord) (applicant, result []byte, err error) {
	applicant, err = json.Marshal(rec.Applicant)
	if err != nil {
		return nil, nil, err
	}
	result, err = json.Marshal(rec.Result)
	if err != nil {
		return nil, nil, err
	}
	return applicant, result, nil
}

func unmarshalRecord(rec *model.DecisionRecord, applicant, result []byte) error {
	if err := json.Unmarshal(applicant, &rec.Applicant); err != nil {
		return eris.Wrap(err, "store: unmarshal applicant")
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return eris.Wrap(err, "store: unmarshal result")
	}
	return nil
}
