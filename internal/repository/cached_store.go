package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/pkg/cache"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
)

// CachedStore puts a read-through session cache in front of another Store.
// Message and attachment calls go straight to the wrapped store.
type CachedStore struct {
	Store
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger
}

func NewCachedStore(inner Store, c cache.Store, ttl time.Duration, log *logger.Logger) *CachedStore {
	return &CachedStore{Store: inner, cache: c, ttl: ttl, log: log}
}

func sessionKey(id string) string {
	return "chat:session:" + id
}

func (s *CachedStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	if data, err := s.cache.Get(ctx, sessionKey(id)); err == nil {
		var session models.ChatSession
		if err := json.Unmarshal(data, &session); err == nil {
			return &session, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("Session cache read failed", "session_id", id, "error", err.Error())
	}

	session, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, session)
	return session, nil
}

func (s *CachedStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if err := s.Store.CreateSession(ctx, session); err != nil {
		return err
	}
	s.remember(ctx, session)
	return nil
}

// Writes invalidate the cached record; the next read refills it
func (s *CachedStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*models.ChatSession, error) {
	defer s.forget(ctx, id)
	return s.Store.UpdateSession(ctx, id, patch)
}

func (s *CachedStore) IncrementMessageCount(ctx context.Context, id string, delta int, lastActivity time.Time) (*models.ChatSession, error) {
	defer s.forget(ctx, id)
	return s.Store.IncrementMessageCount(ctx, id, delta, lastActivity)
}

func (s *CachedStore) DeleteSession(ctx context.Context, id string) ([]string, error) {
	s.forget(ctx, id)
	return s.Store.DeleteSession(ctx, id)
}

func (s *CachedStore) remember(ctx context.Context, session *models.ChatSession) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, sessionKey(session.ID), data, s.ttl); err != nil {
		s.log.Warn("Session cache write failed", "session_id", session.ID, "error", err.Error())
	}
}

func (s *CachedStore) forget(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, sessionKey(id)); err != nil {
		s.log.Warn("Session cache invalidation failed", "session_id", id, "error", err.Error())
	}
}
