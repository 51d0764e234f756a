package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magicyang-1/chatshare-sub001/ai"
	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/internal/repository"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"

	"github.com/google/uuid"
)

// DefaultSessionTitle is used when a chat is created without a title
const DefaultSessionTitle = "New chat"

// Dispatcher answers one user turn
type Dispatcher interface {
	Dispatch(ctx context.Context, req ai.DispatchRequest) ai.Outcome
}

// SendRequest is one user turn in a session
type SendRequest struct {
	SessionID   string
	CallerID    uint
	Text        string
	Attachments []ClientAttachmentRef
	// Capability and Model override the session's settings when set
	Capability string
	Model      string
	Options    ai.Options
}

// SendResult carries both stored messages and what happened to the turn
type SendResult struct {
	Session          *models.ChatSession
	UserMessage      *models.Message
	AssistantMessage *models.Message
	Outcome          ai.Outcome
	BoundCount       int
	Unresolved       []ClientAttachmentRef
}

// CreateSessionRequest carries the optional fields of a new chat
type CreateSessionRequest struct {
	OwnerID    uint
	Title      string
	Capability string
	Model      string
}

// SessionManager owns the chat and message lifecycle around a dispatch
type SessionManager struct {
	store      repository.Store
	resolver   *AttachmentResolver
	dispatcher Dispatcher
	blobs      storage.BlobStore
	log        *logger.Logger
	now        func() time.Time
}

func NewSessionManager(store repository.Store, resolver *AttachmentResolver, dispatcher Dispatcher, blobs storage.BlobStore, log *logger.Logger) *SessionManager {
	return &SessionManager{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		blobs:      blobs,
		log:        log,
		now:        time.Now,
	}
}

// Send stores the user's message, binds its attachments, asks the dispatcher
// for an answer and stores that too. Only invalid input and unknown sessions are
// reported as errors; provider trouble shows up as a degraded assistant reply.
func (m *SessionManager) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	session, err := m.ownedSession(ctx, req.SessionID, req.CallerID)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message content or an attachment is required", ErrInvalidInput)
	}
	if text == "" {
		text = ai.DefaultVisionPrompt
	}

	log := m.log.WithContext(ctx).With("session_id", session.ID)

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: m.now(),
	}
	if err := m.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	result := &SendResult{Session: session, UserMessage: userMsg}

	dispatchReq := ai.DispatchRequest{
		Capability: ai.ParseCapability(firstNonEmpty(req.Capability, session.Capability)),
		Model:      firstNonEmpty(req.Model, session.ModelHint),
		Text:       text,
		Options:    req.Options,
	}

	if len(req.Attachments) > 0 {
		result.BoundCount, result.Unresolved = m.resolver.Resolve(ctx, userMsg.ID, req.Attachments)
		if len(result.Unresolved) > 0 {
			log.Warn("Some attachments could not be bound",
				"message_id", userMsg.ID,
				"bound", result.BoundCount,
				"unresolved", len(result.Unresolved),
			)
		}
		dispatchReq.SourceMessageID = userMsg.ID
		atts, err := m.store.ListAttachments(ctx, userMsg.ID)
		if err != nil {
			log.Error("Failed to load bound attachments", "error", err.Error(), "message_id", userMsg.ID)
		}
		userMsg.Attachments = atts
	}

	result.Outcome = m.dispatcher.Dispatch(ctx, dispatchReq)
	if result.Outcome.State == ai.StateDegraded {
		log.Warn("Reply degraded",
			"capability", string(result.Outcome.Capability),
			"reason", errString(result.Outcome.Err),
		)
	}

	assistantMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Content:   result.Outcome.Reply,
		CreatedAt: m.now(),
	}
	if !assistantMsg.CreatedAt.After(userMsg.CreatedAt) {
		assistantMsg.CreatedAt = userMsg.CreatedAt.Add(time.Millisecond)
	}
	if err := m.store.SaveMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}
	result.AssistantMessage = assistantMsg

	updated, err := m.store.IncrementMessageCount(ctx, session.ID, 2, assistantMsg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	result.Session = updated

	return result, nil
}

// CreateSession starts a new chat for ownerID
func (m *SessionManager) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.ChatSession, error) {
	capability := ai.ParseCapability(req.Capability)
	if !capability.Known() {
		return nil, fmt.Errorf("%w: unknown AI type %q", ErrInvalidInput, req.Capability)
	}

	now := m.now()
	session := &models.ChatSession{
		ID:             uuid.NewString(),
		OwnerID:        req.OwnerID,
		Title:          firstNonEmpty(strings.TrimSpace(req.Title), DefaultSessionTitle),
		Capability:     string(capability),
		ModelHint:      strings.TrimSpace(req.Model),
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session owned by callerID
func (m *SessionManager) GetSession(ctx context.Context, sessionID string, callerID uint) (*models.ChatSession, error) {
	return m.ownedSession(ctx, sessionID, callerID)
}

// ListSessions returns a page of the caller's sessions, most recently active first
func (m *SessionManager) ListSessions(ctx context.Context, callerID uint, page, size int) ([]models.ChatSession, int64, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return m.store.ListSessions(ctx, callerID, page*size, size)
}

// Messages returns the session's messages in order with their attachments
func (m *SessionManager) Messages(ctx context.Context, sessionID string, callerID uint) ([]models.Message, error) {
	if _, err := m.ownedSession(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, sessionID)
}

// Rename changes the session title
func (m *SessionManager) Rename(ctx context.Context, sessionID string, callerID uint, title string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	return m.update(ctx, sessionID, callerID, func(*models.ChatSession) repository.SessionPatch {
		return repository.SessionPatch{Title: &title}
	})
}

// SetModel changes the session's preferred model
func (m *SessionManager) SetModel(ctx context.Context, sessionID string, callerID uint, model string) (*models.ChatSession, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: model must not be empty", ErrInvalidInput)
	}
	return m.update(ctx, sessionID, callerID, func(*models.ChatSession) repository.SessionPatch {
		return repository.SessionPatch{ModelHint: &model}
	})
}

// ToggleFavorite flips the favorite flag
func (m *SessionManager) ToggleFavorite(ctx context.Context, sessionID string, callerID uint) (*models.ChatSession, error) {
	return m.update(ctx, sessionID, callerID, func(s *models.ChatSession) repository.SessionPatch {
		favorite := !s.Favorite
		return repository.SessionPatch{Favorite: &favorite}
	})
}

// ToggleProtection flips the protected flag
func (m *SessionManager) ToggleProtection(ctx context.Context, sessionID string, callerID uint) (*models.ChatSession, error) {
	return m.update(ctx, sessionID, callerID, func(s *models.ChatSession) repository.SessionPatch {
		protected := !s.Protected
		return repository.SessionPatch{Protected: &protected}
	})
}

// DeleteSession removes an unprotected session with its messages and files
func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string, callerID uint) error {
	session, err := m.ownedSession(ctx, sessionID, callerID)
	if err != nil {
		return err
	}
	if session.Protected {
		return ErrSessionProtected
	}

	keys, err := m.store.DeleteSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	for _, key := range keys {
		if err := m.blobs.Delete(key); err != nil {
			m.log.WithContext(ctx).LogError(err, "Failed to delete attachment blob", "storage_key", key)
		}
	}
	return nil
}

// update writes only the columns the patch names, leaving counters to IncrementMessageCount
func (m *SessionManager) update(ctx context.Context, sessionID string, callerID uint, patch func(*models.ChatSession) repository.SessionPatch) (*models.ChatSession, error) {
	session, err := m.ownedSession(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	updated, err := m.store.UpdateSession(ctx, session.ID, patch(session))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return updated, nil
}

// ownedSession hides other users' sessions behind ErrNotFound
func (m *SessionManager) ownedSession(ctx context.Context, sessionID string, callerID uint) (*models.ChatSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.OwnerID != callerID {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return session, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
