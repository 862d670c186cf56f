package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ashkan-rafiee/conductor/internal/orchestrator"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists users and orchestration runs in Postgres.
type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			user_id UUID REFERENCES users(id),
			request TEXT NOT NULL,
			execution_type TEXT NOT NULL,
			complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
			response TEXT,
			final_output TEXT,
			tasks JSONB,
			tokens_used BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS runs_user_created_idx ON runs (user_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

// RunRecord is a persisted orchestration run.
type RunRecord struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id,omitempty"`
	Request       string               `json:"request"`
	ExecutionType string               `json:"execution_type"`
	Complexity    float64              `json:"complexity"`
	Response      string               `json:"response,omitempty"`
	FinalOutput   string               `json:"final_output,omitempty"`
	Tasks         []*orchestrator.Task `json:"tasks,omitempty"`
	TokensUsed    int64                `json:"tokens_used"`
	Cost          float64              `json:"cost"`
	Duration      time.Duration        `json:"duration"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// SaveRun persists a completed (or approval-gated) run with its task plan.
// Saving an existing run id updates it, which execution of an approved plan
// relies on.
func (s *Store) SaveRun(ctx context.Context, userID string, result orchestrator.RunResult, runErr string) error {
	tasks, err := json.Marshal(result.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	var uid interface{}
	if userID != "" {
		uid = userID
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, user_id, request, execution_type, complexity, response, final_output, tasks, tokens_used, cost, duration_ms, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			execution_type=EXCLUDED.execution_type,
			response=EXCLUDED.response,
			final_output=EXCLUDED.final_output,
			tasks=EXCLUDED.tasks,
			tokens_used=EXCLUDED.tokens_used,
			cost=EXCLUDED.cost,
			duration_ms=EXCLUDED.duration_ms,
			error=EXCLUDED.error`,
		result.RunID, uid, result.Request, result.ExecutionType, result.Complexity,
		result.Response, result.FinalOutput, tasks, result.TokensUsed, result.Cost,
		result.Duration.Milliseconds(), runErr, result.CreatedAt)
	return err
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	var userID sql.NullString
	var tasks []byte
	var durationMS int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, request, execution_type, complexity, COALESCE(response,''), COALESCE(final_output,''), tasks, tokens_used, cost, duration_ms, COALESCE(error,''), created_at
		FROM runs WHERE id=$1`, id).Scan(
		&rec.ID, &userID, &rec.Request, &rec.ExecutionType, &rec.Complexity,
		&rec.Response, &rec.FinalOutput, &tasks, &rec.TokensUsed, &rec.Cost,
		&durationMS, &rec.Error, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	rec.UserID = userID.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if len(tasks) > 0 {
		if err := json.Unmarshal(tasks, &rec.Tasks); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal tasks: %w", err)
		}
	}
	return rec, nil
}

// ListRuns returns a user's most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, request, execution_type, complexity, tokens_used, cost, duration_ms, COALESCE(error,''), created_at
		FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.Request, &rec.ExecutionType, &rec.Complexity,
			&rec.TokensUsed, &rec.Cost, &durationMS, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.UserID = userID
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
