package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
)

// MemoryStore keeps everything in process. It backs STORAGE_DRIVER=memory and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]models.ChatSession
	messages    map[string]models.Message
	attachments map[string]models.Attachment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]models.ChatSession),
		messages:    make(map[string]models.Message),
		attachments: make(map[string]models.Attachment),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, id string, patch SessionPatch) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.ModelHint != nil {
		session.ModelHint = *patch.ModelHint
	}
	if patch.Favorite != nil {
		session.Favorite = *patch.Favorite
	}
	if patch.Protected != nil {
		session.Protected = *patch.Protected
	}
	session.UpdatedAt = time.Now()
	s.sessions[id] = session
	return &session, nil
}

func (s *MemoryStore) IncrementMessageCount(_ context.Context, id string, delta int, lastActivity time.Time) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	session.MessageCount += delta
	if lastActivity.After(session.LastActivityAt) {
		session.LastActivityAt = lastActivity
	}
	session.UpdatedAt = time.Now()
	s.sessions[id] = session
	return &session, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, ownerID uint, offset, limit int) ([]models.ChatSession, int64, error) {
	s.mu.RLock()
	var owned []models.ChatSession
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			owned = append(owned, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].LastActivityAt.After(owned[j].LastActivityAt)
	})

	total := int64(len(owned))
	if offset >= len(owned) {
		return []models.ChatSession{}, total, nil
	}
	end := len(owned)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return owned[offset:end], total, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return nil, ErrNotFound
	}

	var keys []string
	for msgID, msg := range s.messages {
		if msg.SessionID != id {
			continue
		}
		for attID, att := range s.attachments {
			if att.MessageID != nil && *att.MessageID == msgID {
				keys = append(keys, att.StorageKey)
				delete(s.attachments, attID)
			}
		}
		delete(s.messages, msgID)
	}
	delete(s.sessions, id)
	return keys, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *message
	stored.Attachments = nil
	s.messages[message.ID] = stored
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			msg.Attachments = s.attachmentsFor(msg.ID)
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateAttachment(_ context.Context, attachment *models.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[attachment.ID] = *attachment
	return nil
}

func (s *MemoryStore) ListAttachments(_ context.Context, messageID string) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachmentsFor(messageID), nil
}

// attachmentsFor must be called with the lock held
func (s *MemoryStore) attachmentsFor(messageID string) []models.Attachment {
	var out []models.Attachment
	for _, att := range s.attachments {
		if att.MessageID != nil && *att.MessageID == messageID {
			out = append(out, copyAttachment(att))
		}
	}
	sortByCreated(out)
	return out
}

func (s *MemoryStore) FindAttachmentByStorageKey(_ context.Context, key string) (*models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, att := range s.attachments {
		if att.StorageKey == key {
			found := copyAttachment(att)
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindUnboundAttachmentsByOriginalName(_ context.Context, name string) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Attachment
	for _, att := range s.attachments {
		if att.OriginalName == name && !att.IsBound() {
			out = append(out, copyAttachment(att))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) BindAttachment(_ context.Context, attachmentID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attachments[attachmentID]
	if !ok || att.IsBound() {
		return false, nil
	}
	id := messageID
	att.MessageID = &id
	s.attachments[attachmentID] = att
	return true, nil
}

func (s *MemoryStore) ListOrphanAttachments(_ context.Context, createdBefore time.Time) ([]models.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Attachment
	for _, att := range s.attachments {
		if !att.IsBound() && att.CreatedAt.Before(createdBefore) {
			out = append(out, copyAttachment(att))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) DeleteUnboundAttachment(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.attachments[id]
	if !ok || att.IsBound() {
		return false, nil
	}
	delete(s.attachments, id)
	return true, nil
}

func copyAttachment(att models.Attachment) models.Attachment {
	if att.MessageID != nil {
		id := *att.MessageID
		att.MessageID = &id
	}
	return att
}

func sortByCreated(atts []models.Attachment) {
	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].CreatedAt.Before(atts[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
