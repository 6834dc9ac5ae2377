package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"proofshare/internal/consent/models"
	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

// PostgresStore persists consent records in PostgreSQL. A partial unique
// index on (session_id) WHERE withdrawn_at IS NULL enforces the one-active-
// record-per-session invariant at the storage layer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record *models.ConsentRecord) error {
	claimsJSON, err := json.Marshal(record.SelectedClaims)
	if err != nil {
		return fmt.Errorf("encode selected claims: %w", err)
	}
	query := `
		INSERT INTO consents (id, session_id, subject_id, counterparty_id, purpose, request_snapshot, selected_claims, consent_given, signature, ts, withdrawn_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.SessionID),
		record.SubjectID.String(),
		record.CounterpartyID.String(),
		record.Purpose,
		[]byte(record.RequestSnapshot),
		claimsJSON,
		record.ConsentGiven,
		record.Signature,
		record.Timestamp,
		record.WithdrawnAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	query := consentSelect + ` WHERE id = $1`
	record, err := scanConsent(s.db.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindActiveBySession(ctx context.Context, sessionID id.SessionID) (*models.ConsentRecord, error) {
	query := consentSelect + ` WHERE session_id = $1 AND withdrawn_at IS NULL`
	record, err := scanConsent(s.db.QueryRowContext(ctx, query, uuid.UUID(sessionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent by session: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Withdraw(ctx context.Context, subjectID id.HolderID, purposes []string, at time.Time) (int, error) {
	query := `UPDATE consents SET withdrawn_at = $1 WHERE subject_id = $2 AND withdrawn_at IS NULL`
	args := []any{at, subjectID.String()}

	if len(purposes) > 0 {
		placeholders := make([]string, len(purposes))
		for i, purpose := range purposes {
			args = append(args, purpose)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += " AND purpose IN (" + strings.Join(placeholders, ", ") + ")"
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("withdraw consents: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("withdraw consents: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, consentSelect+` ORDER BY ts ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var records []*models.ConsentRecord
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("list consents: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return records, nil
}

const consentSelect = `
	SELECT id, session_id, subject_id, counterparty_id, purpose, request_snapshot, selected_claims, consent_given, signature, ts, withdrawn_at
	FROM consents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.ConsentRecord, error) {
	var (
		consentID      uuid.UUID
		sessionID      uuid.UUID
		subjectID      string
		counterpartyID string
		purpose        string
		snapshot       []byte
		claimsJSON     []byte
		consentGiven   bool
		signature      string
		ts             time.Time
		withdrawnAt    sql.NullTime
	)
	if err := row.Scan(&consentID, &sessionID, &subjectID, &counterpartyID, &purpose,
		&snapshot, &claimsJSON, &consentGiven, &signature, &ts, &withdrawnAt); err != nil {
		return nil, err
	}

	record := &models.ConsentRecord{
		ID:              id.ConsentID(consentID),
		SessionID:       id.SessionID(sessionID),
		SubjectID:       id.HolderID(subjectID),
		CounterpartyID:  id.RequesterID(counterpartyID),
		Purpose:         purpose,
		RequestSnapshot: snapshot,
		ConsentGiven:    consentGiven,
		Signature:       signature,
		Timestamp:       ts,
	}
	if err := json.Unmarshal(claimsJSON, &record.SelectedClaims); err != nil {
		return nil, fmt.Errorf("decode selected claims: %w", err)
	}
	if withdrawnAt.Valid {
		at := withdrawnAt.Time
		record.WithdrawnAt = &at
	}
	return record, nil
}
