package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"proofshare/internal/session/models"
	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "session:"
	// sessionIndexKey orders session ids by creation time for newest-first listing.
	sessionIndexKey = "sessions:by_created"
)

// RedisStore persists sessions in Redis. Sessions are JSON documents under
// session:<id>; a sorted set scored by creation time backs listing. Expired
// sessions are kept (terminal state, not deletion), so no Redis TTL is set;
// retention is an external policy.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// sessionJSON is the wire representation. Explicit tags and unix-nano times
// keep the format stable across model changes.
type sessionJSON struct {
	ID           string               `json:"id"`
	Kind         string               `json:"kind"`
	Status       string               `json:"status"`
	Request      models.ProofRequest  `json:"request"`
	Response     *models.Response     `json:"response,omitempty"`
	HolderID     string               `json:"holder_id,omitempty"`
	RevokeReason string               `json:"revoke_reason,omitempty"`
	TTLMillis    int64                `json:"ttl_ms"`
	CreatedAt    int64                `json:"created_at"`
	ExpiresAt    int64                `json:"expires_at"`
	Version      int64                `json:"version"`
}

func sessionToJSON(s *models.Session) *sessionJSON {
	return &sessionJSON{
		ID:           s.ID.String(),
		Kind:         string(s.Kind),
		Status:       string(s.Status),
		Request:      s.Request,
		Response:     s.Response,
		HolderID:     s.HolderID.String(),
		RevokeReason: s.RevokeReason,
		TTLMillis:    s.TTL.Milliseconds(),
		CreatedAt:    s.CreatedAt.UnixNano(),
		ExpiresAt:    s.ExpiresAt.UnixNano(),
		Version:      s.Version,
	}
}

func sessionFromJSON(j *sessionJSON) (*models.Session, error) {
	sessionID, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	return &models.Session{
		ID:           id.SessionID(sessionID),
		Kind:         models.Kind(j.Kind),
		Status:       models.Status(j.Status),
		Request:      j.Request,
		Response:     j.Response,
		HolderID:     id.HolderID(j.HolderID),
		RevokeReason: j.RevokeReason,
		TTL:          time.Duration(j.TTLMillis) * time.Millisecond,
		CreatedAt:    time.Unix(0, j.CreatedAt),
		ExpiresAt:    time.Unix(0, j.ExpiresAt),
		Version:      j.Version,
	}, nil
}

func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(sessionToJSON(session))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, sessionKeyPrefix+session.ID.String(), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return sentinel.ErrDuplicate
	}
	if err := s.client.ZAdd(ctx, sessionIndexKey, redis.Z{
		Score:  float64(session.CreatedAt.UnixNano()),
		Member: session.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return decodeSession(data)
}

// Update performs the version compare-and-set inside a WATCH transaction so a
// concurrent writer aborts the commit instead of clobbering it.
func (s *RedisStore) Update(ctx context.Context, session *models.Session) error {
	key := sessionKeyPrefix + session.ID.String()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return sentinel.ErrNotFound
			}
			return err
		}
		stored, err := decodeSession(data)
		if err != nil {
			return err
		}
		if stored.Version != session.Version {
			return sentinel.ErrConflict
		}

		next := sessionToJSON(session)
		next.Version = session.Version + 1
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return sentinel.ErrConflict
		}
		return err
	}
	session.Version++
	return nil
}

func (s *RedisStore) List(ctx context.Context, filter *models.Filter) ([]*models.Session, error) {
	ids, err := s.client.ZRevRange(ctx, sessionIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, sessionID := range ids {
		keys[i] = sessionKeyPrefix + sessionID
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // index entry without a document; skip
		}
		session, err := decodeSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		if filter.Matches(session) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func decodeSession(data []byte) (*models.Session, error) {
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return sessionFromJSON(&j)
}
