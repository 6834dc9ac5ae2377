package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"proofshare/internal/session/models"
	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

// PostgresStore persists sessions in PostgreSQL. The request and response are
// stored as JSONB documents; filterable fields are projected into columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	requestJSON, responseJSON, err := marshalDocs(session)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (id, kind, status, request, response, requester_id, holder_id, revoke_reason, ttl_ms, created_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(session.ID),
		string(session.Kind),
		string(session.Status),
		requestJSON,
		responseJSON,
		session.Request.Requester.ID.String(),
		session.HolderID.String(),
		session.RevokeReason,
		session.TTL.Milliseconds(),
		session.CreatedAt,
		session.ExpiresAt,
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	query := sessionSelect + ` WHERE id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, uuid.UUID(sessionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

// Update commits only when the stored version matches the caller's, bumping
// it in the same statement so concurrent writers cannot interleave.
func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	requestJSON, responseJSON, err := marshalDocs(session)
	if err != nil {
		return err
	}
	query := `
		UPDATE sessions
		SET status = $1, request = $2, response = $3, holder_id = $4, revoke_reason = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		string(session.Status),
		requestJSON,
		responseJSON,
		session.HolderID.String(),
		session.RevokeReason,
		uuid.UUID(session.ID),
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, uuid.UUID(session.ID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	session.Version++
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter *models.Filter) ([]*models.Session, error) {
	query := sessionSelect
	var conditions []string
	var args []any

	appendCond := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter != nil {
		if filter.Status != nil {
			appendCond("status = $%d", string(*filter.Status))
		}
		if filter.Requester != nil {
			appendCond("requester_id = $%d", filter.Requester.String())
		}
		if filter.Holder != nil {
			appendCond("holder_id = $%d", filter.Holder.String())
		}
		if filter.Domain != nil {
			appendCond(`EXISTS (
				SELECT 1 FROM jsonb_array_elements(request->'items') AS item
				WHERE item->>'domain' = $%d
			)`, *filter.Domain)
		}
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

const sessionSelect = `
	SELECT id, kind, status, request, response, holder_id, revoke_reason, ttl_ms, created_at, expires_at, version
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sessionID    uuid.UUID
		kind         string
		status       string
		requestJSON  []byte
		responseJSON []byte
		holderID     string
		revokeReason string
		ttlMillis    int64
		createdAt    time.Time
		expiresAt    time.Time
		version      int64
	)
	if err := row.Scan(&sessionID, &kind, &status, &requestJSON, &responseJSON,
		&holderID, &revokeReason, &ttlMillis, &createdAt, &expiresAt, &version); err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:           id.SessionID(sessionID),
		Kind:         models.Kind(kind),
		Status:       models.Status(status),
		HolderID:     id.HolderID(holderID),
		RevokeReason: revokeReason,
		TTL:          time.Duration(ttlMillis) * time.Millisecond,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		Version:      version,
	}
	if err := json.Unmarshal(requestJSON, &session.Request); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if len(responseJSON) > 0 {
		session.Response = &models.Response{}
		if err := json.Unmarshal(responseJSON, session.Response); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return session, nil
}

func marshalDocs(session *models.Session) (requestJSON, responseJSON []byte, err error) {
	requestJSON, err = json.Marshal(session.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}
	if session.Response != nil {
		responseJSON, err = json.Marshal(session.Response)
		if err != nil {
			return nil, nil, fmt.Errorf("encode response: %w", err)
		}
	}
	return requestJSON, responseJSON, nil
}
