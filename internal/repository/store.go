package repository

import (
	"context"
	"errors"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
)

// ErrNotFound is returned when a session, message or attachment does not exist
var ErrNotFound = errors.New("record not found")

// SessionPatch lists the session settings a caller may change. Nil fields are left alone.
type SessionPatch struct {
	Title     *string
	ModelHint *string
	Favorite  *bool
	Protected *bool
}

// SessionStore persists chat sessions and their messages
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	// UpdateSession writes only the patched columns and returns the stored session.
	// A session deleted in the meantime yields ErrNotFound.
	UpdateSession(ctx context.Context, id string, patch SessionPatch) (*models.ChatSession, error)
	// IncrementMessageCount adds delta to the stored count in place and moves
	// LastActivityAt forward to lastActivity
	IncrementMessageCount(ctx context.Context, id string, delta int, lastActivity time.Time) (*models.ChatSession, error)
	ListSessions(ctx context.Context, ownerID uint, offset, limit int) ([]models.ChatSession, int64, error)
	// DeleteSession removes the session, its messages and their attachments, and returns
	// the storage keys of the removed attachments so blobs can be cleaned up
	DeleteSession(ctx context.Context, id string) ([]string, error)

	SaveMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// AttachmentStore persists uploaded file records
type AttachmentStore interface {
	CreateAttachment(ctx context.Context, attachment *models.Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
	FindAttachmentByStorageKey(ctx context.Context, key string) (*models.Attachment, error)
	// FindUnboundAttachmentsByOriginalName returns unbound attachments oldest first
	FindUnboundAttachmentsByOriginalName(ctx context.Context, name string) ([]models.Attachment, error)
	// BindAttachment sets MessageID only if it is currently unset and reports whether it did
	BindAttachment(ctx context.Context, attachmentID, messageID string) (bool, error)
	ListOrphanAttachments(ctx context.Context, createdBefore time.Time) ([]models.Attachment, error)
	// DeleteUnboundAttachment removes the record only if no message owns it and reports whether it did
	DeleteUnboundAttachment(ctx context.Context, id string) (bool, error)
}

// Store is the full persistence contract
type Store interface {
	SessionStore
	AttachmentStore
}
