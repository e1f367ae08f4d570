// Package storage provides SQLite-backed persistence for participants,
// questions and bets.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/forecastbot/internal/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	startBalance int64
}

// New opens or creates the SQLite database at dbPath. Participants seen for
// the first time are seeded with startBalance points.
// An empty dbPath defaults to $TMPDIR/forecastbot/data.db.
func New(dbPath string, startBalance int64) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "forecastbot", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; transactions serialize here
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, startBalance: startBalance}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS participants (
			id          INTEGER PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			balance     INTEGER NOT NULL CHECK (balance >= 0),
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			title          TEXT NOT NULL,
			kind           TEXT NOT NULL,
			step           TEXT NOT NULL,
			status         TEXT NOT NULL,
			fact           TEXT,
			settlement_id  TEXT,
			created_at     INTEGER NOT NULL,
			settled_at     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS bets (
			participant_id  INTEGER NOT NULL REFERENCES participants(id),
			question_id     INTEGER NOT NULL REFERENCES questions(id),
			forecast        TEXT NOT NULL,
			points          INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			PRIMARY KEY (participant_id, question_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(status, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_question ON bets(question_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bets_participant ON bets(participant_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Tx is a unit of work. Every read and write made through it commits or
// rolls back together.
type Tx struct {
	tx           *sql.Tx
	startBalance int64
}

// InTx runs fn inside a transaction. Any error returned by fn rolls back.
func (s *Storage) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck

	if err := fn(&Tx{tx: sqlTx, startBalance: s.startBalance}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateQuestion inserts an OPEN question and returns its id.
func (s *Storage) CreateQuestion(ctx context.Context, q *models.Question) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (title, kind, step, status, created_at)
		VALUES (?,?,?,?,?)`,
		q.Title, string(q.Kind), q.Step.String(), string(q.Status), q.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert question: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read question id: %w", err)
	}
	q.ID = id
	return id, nil
}

func (s *Storage) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	return getQuestion(ctx, s.db, id)
}

func (tx *Tx) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	return getQuestion(ctx, tx.tx, id)
}

func getQuestion(ctx context.Context, q querier, id int64) (*models.Question, error) {
	row := q.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id = ?`, id)
	question, err := scanQuestion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrQuestionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return question, nil
}

// ListOpenQuestions returns OPEN questions, newest first.
func (s *Storage) ListOpenQuestions(ctx context.Context) ([]models.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+` FROM questions WHERE status = ? ORDER BY id DESC`,
		string(models.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// MarkSettled moves a question from OPEN to SETTLED and records the fact.
// It reports false when the question was not OPEN at the time of the update.
func (tx *Tx) MarkSettled(ctx context.Context, id int64, fact decimal.Decimal, settlementID string, at time.Time) (bool, error) {
	res, err := tx.tx.ExecContext(ctx, `
		UPDATE questions
		SET status = ?, fact = ?, settlement_id = ?, settled_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusSettled), fact.String(), settlementID, at.UnixNano(),
		id, string(models.StatusOpen),
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to settle question: %w", err)
	}
	return n == 1, nil
}

const questionCols = `id, title, kind, step, status, fact, settlement_id, created_at, settled_at`

func scanQuestion(scan func(...any) error) (*models.Question, error) {
	var (
		q             models.Question
		kind, status  string
		step          string
		fact, settlID sql.NullString
		createdAtNano int64
		settledAtNano sql.NullInt64
	)
	if err := scan(&q.ID, &q.Title, &kind, &step, &status, &fact, &settlID, &createdAtNano, &settledAtNano); err != nil {
		return nil, err
	}
	q.Kind = models.Kind(kind)
	q.Status = models.Status(status)
	var err error
	if q.Step, err = decimal.NewFromString(step); err != nil {
		return nil, fmt.Errorf("corrupt step %q: %w", step, err)
	}
	if fact.Valid {
		f, err := decimal.NewFromString(fact.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt fact %q: %w", fact.String, err)
		}
		q.Fact = &f
	}
	q.SettlementID = settlID.String
	q.CreatedAt = time.Unix(0, createdAtNano)
	if settledAtNano.Valid {
		t := time.Unix(0, settledAtNano.Int64)
		q.SettledAt = &t
	}
	return &q, nil
}
