// Package postgres is the relational Store backend (STORE_BACKEND=postgres).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
)

const uniqueViolation = "23505"

var _ store.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// insertError maps a unique violation to duplicate and wraps anything else.
func insertError(err error, duplicate error, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return duplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullBytes keeps absent payloads as SQL NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (s *Store) CreateMessage(ctx context.Context, rec *db.MessageRecord) error {
	const query = `INSERT INTO hl7_messages (
    id, original_filename, raw_content, message_type, trigger_event, control_id,
    patient_id, patient_first_name, patient_last_name, patient_dob, patient_gender,
    visit_number, admission_date, discharge_date, state, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.OriginalFilename, rec.RawContent, rec.MessageType, rec.TriggerEvent, rec.ControlID,
		rec.PatientID, rec.PatientFirstName, rec.PatientLastName, rec.PatientDOB, rec.PatientGender,
		rec.VisitNumber, rec.AdmissionDate, rec.DischargeDate, string(rec.State), rec.CreatedAt, rec.UpdatedAt,
	)
	return insertError(err, store.ErrAlreadyExists, "insert message")
}

func (s *Store) GetMessage(ctx context.Context, id string) (*db.MessageRecord, error) {
	const query = `SELECT id, original_filename, raw_content, message_type, trigger_event, control_id,
    patient_id, patient_first_name, patient_last_name, patient_dob, patient_gender,
    visit_number, admission_date, discharge_date, state, xml_content, json_content, pdf_content,
    created_at, updated_at
FROM hl7_messages WHERE id = $1`

	var (
		rec   db.MessageRecord
		state string
		json  []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.OriginalFilename, &rec.RawContent, &rec.MessageType, &rec.TriggerEvent, &rec.ControlID,
		&rec.PatientID, &rec.PatientFirstName, &rec.PatientLastName, &rec.PatientDOB, &rec.PatientGender,
		&rec.VisitNumber, &rec.AdmissionDate, &rec.DischargeDate, &state, &rec.XMLContent, &json, &rec.PDFContent,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}
	rec.State = db.ProcessingState(state)
	rec.JSONContent = json
	return &rec, nil
}

func (s *Store) GetState(ctx context.Context, id string) (db.ProcessingState, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM hl7_messages WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("select state: %w", err)
	}
	return db.ProcessingState(state), nil
}

// UpdateContent keeps stored payloads for every NULL parameter.
func (s *Store) UpdateContent(ctx context.Context, id string, u db.ContentUpdate) error {
	const query = `UPDATE hl7_messages SET
    xml_content  = COALESCE($2, xml_content),
    json_content = COALESCE($3::jsonb, json_content),
    pdf_content  = COALESCE($4, pdf_content),
    updated_at   = $5
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, u.XML, nullBytes(u.JSON), nullBytes(u.PDF), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TransitionState(ctx context.Context, id string, from, to db.ProcessingState) error {
	if err := store.CheckTransition(from, to); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE hl7_messages SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2`,
		id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetState(ctx, id); err != nil {
		return err
	}
	return store.ErrStateConflict
}

func (s *Store) AppendLog(ctx context.Context, entry *db.ProcessingLogEntry) error {
	const query = `INSERT INTO processing_logs (
    id, message_id, agent_name, processing_step, status, error_message, started_at, completed_at, created_at
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.MessageID, entry.AgentName, entry.ProcessingStep, entry.Status,
		entry.ErrorMessage, entry.StartedAt, entry.CompletedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, messageID string) ([]db.ProcessingLogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, message_id, agent_name, processing_step, status,
    COALESCE(error_message, ''), started_at, completed_at, created_at
FROM processing_logs WHERE message_id = $1 ORDER BY created_at`, messageID)
	if err != nil {
		return nil, fmt.Errorf("select processing logs: %w", err)
	}
	defer rows.Close()

	var entries []db.ProcessingLogEntry
	for rows.Next() {
		var e db.ProcessingLogEntry
		if err := rows.Scan(&e.ID, &e.MessageID, &e.AgentName, &e.ProcessingStep, &e.Status,
			&e.ErrorMessage, &e.StartedAt, &e.CompletedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) SaveConversion(ctx context.Context, conv *db.SavedConversion) error {
	const query = `INSERT INTO saved_conversions (
    id, original_hl7_content, content_hash, json_content, xml_content, conversion_metadata,
    user_id, title, description, created_at, updated_at
) VALUES ($1, $2, $3, $4::jsonb, $5, $6::jsonb, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		conv.ID, conv.OriginalContent, conv.ContentHash, nullBytes(conv.JSONContent), conv.XMLContent,
		nullBytes(conv.Metadata), conv.UserID, conv.Title, conv.Description, conv.CreatedAt, conv.UpdatedAt,
	)
	return insertError(err, store.ErrDuplicateContent, "insert saved conversion")
}

func (s *Store) GetConversion(ctx context.Context, id string) (*db.SavedConversion, error) {
	const query = `SELECT id, original_hl7_content, content_hash, json_content, xml_content,
    conversion_metadata, user_id, title, description, created_at, updated_at
FROM saved_conversions WHERE id = $1`

	var (
		conv     db.SavedConversion
		json     []byte
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&conv.ID, &conv.OriginalContent, &conv.ContentHash, &json, &conv.XMLContent,
		&metadata, &conv.UserID, &conv.Title, &conv.Description, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select saved conversion: %w", err)
	}
	conv.JSONContent = json
	conv.Metadata = metadata
	return &conv, nil
}

func (s *Store) DeleteConversion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM saved_conversions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete saved conversion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
