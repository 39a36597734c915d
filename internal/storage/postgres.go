/**
 * PostgreSQL task store for the OCR consensus worker
 *
 * Task records live in ocr_tasks. Results and error details are JSONB;
 * transitions run as row-locked read-modify-write transactions so two
 * workers can never both move the same task out of a state.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS ocr_tasks (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	state           TEXT NOT NULL,
	fingerprint     TEXT,
	source_task_id  TEXT,
	options         JSONB NOT NULL DEFAULT '{}'::jsonb,
	submitted_at    TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	deadline        TIMESTAMPTZ,
	confidence      NUMERIC(5,4),
	document        JSONB,
	extraction      JSONB,
	error           JSONB,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ocr_tasks_fingerprint_idx ON ocr_tasks (fingerprint);
`

const selectColumns = `
	id, kind, state, fingerprint, source_task_id, options,
	submitted_at, started_at, completed_at, deadline,
	document, extraction, error`

// Postgres is a TaskStore on a PostgreSQL database
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens databaseURL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Migrate creates the task table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate ocr_tasks: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, task *model.Task) error {
	row, err := encodeTask(task)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO ocr_tasks (
			id, kind, state, fingerprint, source_task_id, options,
			submitted_at, started_at, completed_at, deadline,
			confidence, document, extraction, error, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`,
		task.ID, string(task.Kind), string(task.State), task.Fingerprint, task.SourceTaskID, row.options,
		task.SubmittedAt, task.StartedAt, task.CompletedAt, task.Deadline,
		row.confidence, row.document, row.extraction, row.error,
	)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("task %s already exists", task.ID)
		}
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*model.Task, error) {
	return scanTask(p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ocr_tasks WHERE id = $1`, id), id)
}

func (p *Postgres) Update(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ocr_tasks WHERE id = $1 FOR UPDATE`, id), id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}

	row, err := encodeTask(task)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE ocr_tasks SET
			state = $2,
			started_at = $3,
			completed_at = $4,
			deadline = $5,
			confidence = $6,
			document = $7,
			extraction = $8,
			error = $9,
			updated_at = NOW()
		WHERE id = $1`,
		id, string(task.State), task.StartedAt, task.CompletedAt, task.Deadline,
		row.confidence, row.document, row.extraction, row.error,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task (task=%s, state=%s): %w", id, task.State, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task %s: %w", id, err)
	}
	return task, nil
}

// Ping checks database connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

var _ TaskStore = (*Postgres)(nil)

// JSON columns are bound as strings; lib/pq sends []byte as bytea.
type encodedTask struct {
	options    string
	confidence sql.NullFloat64
	document   sql.NullString
	extraction sql.NullString
	error      sql.NullString
}

func encodeTask(t *model.Task) (*encodedTask, error) {
	var row encodedTask
	options, err := json.Marshal(t.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}
	row.options = string(options)
	if row.document, err = marshalNullable(t.Document); err != nil {
		return nil, fmt.Errorf("failed to marshal document result: %w", err)
	}
	if row.extraction, err = marshalNullable(t.Extraction); err != nil {
		return nil, fmt.Errorf("failed to marshal extraction result: %w", err)
	}
	if row.error, err = marshalNullable(t.Error); err != nil {
		return nil, fmt.Errorf("failed to marshal task error: %w", err)
	}
	if t.Document != nil {
		row.confidence = sql.NullFloat64{Float64: sanitizeConfidence(t.Document.Confidence), Valid: true}
	}
	return &row, nil
}

// marshalNullable leaves the column NULL for a nil pointer.
func marshalNullable[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(sanitizeJSONForPostgres(data)), Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner, id string) (*model.Task, error) {
	var (
		t                                   model.Task
		kind, state                         string
		fingerprint, sourceTaskID           sql.NullString
		options, document, extraction, tErr []byte
		startedAt, completedAt, deadline    sql.NullTime
	)
	err := row.Scan(
		&t.ID, &kind, &state, &fingerprint, &sourceTaskID, &options,
		&t.SubmittedAt, &startedAt, &completedAt, &deadline,
		&document, &extraction, &tErr,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}

	t.Kind = model.TaskKind(kind)
	t.State = model.TaskState(state)
	t.Fingerprint = fingerprint.String
	t.SourceTaskID = sourceTaskID.String
	t.StartedAt = nullTime(startedAt)
	t.CompletedAt = nullTime(completedAt)
	t.Deadline = nullTime(deadline)

	if len(options) > 0 {
		if err := json.Unmarshal(options, &t.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if len(document) > 0 {
		if err := json.Unmarshal(document, &t.Document); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document result: %w", err)
		}
	}
	if len(extraction) > 0 {
		if err := json.Unmarshal(extraction, &t.Extraction); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
		}
	}
	if len(tErr) > 0 {
		if err := json.Unmarshal(tErr, &t.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task error: %w", err)
		}
	}
	return &t, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0, 1] so it fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres drops \u0000 escapes, which JSONB rejects, and
// turns other control character escapes into spaces. OCR output carries
// both now and then.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
