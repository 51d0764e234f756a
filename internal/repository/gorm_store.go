package repository

import (
	"context"
	"errors"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"

	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables the store needs
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.ChatSession{}, &models.Message{}, &models.Attachment{})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *GormStore) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*models.ChatSession, error) {
	columns := map[string]any{"updated_at": time.Now()}
	if patch.Title != nil {
		columns["title"] = *patch.Title
	}
	if patch.ModelHint != nil {
		columns["model_hint"] = *patch.ModelHint
	}
	if patch.Favorite != nil {
		columns["favorite"] = *patch.Favorite
	}
	if patch.Protected != nil {
		columns["protected"] = *patch.Protected
	}
	return s.updateColumns(ctx, id, columns)
}

// IncrementMessageCount lets the database do the addition so concurrent sends never lose a turn
func (s *GormStore) IncrementMessageCount(ctx context.Context, id string, delta int, lastActivity time.Time) (*models.ChatSession, error) {
	return s.updateColumns(ctx, id, map[string]any{
		"message_count":    gorm.Expr("message_count + ?", delta),
		"last_activity_at": gorm.Expr("GREATEST(last_activity_at, ?)", lastActivity),
		"updated_at":       time.Now(),
	})
}

func (s *GormStore) updateColumns(ctx context.Context, id string, columns map[string]any) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatSession{}).Where("id = ?", id).UpdateColumns(columns)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&session, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *GormStore) ListSessions(ctx context.Context, ownerID uint, offset, limit int) ([]models.ChatSession, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&models.ChatSession{}).Where("owner_id = ?", ownerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.ChatSession
	err := q.Order("last_activity_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error
	return sessions, total, err
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		if err := tx.First(&session, "id = ?", id).Error; err != nil {
			return notFound(err)
		}

		messageIDs := tx.Model(&models.Message{}).Select("id").Where("session_id = ?", id)
		if err := tx.Model(&models.Attachment{}).
			Where("message_id IN (?)", messageIDs).
			Pluck("storage_key", &keys).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *GormStore) SaveMessage(ctx context.Context, message *models.Message) error {
	return s.db.WithContext(ctx).Omit("Attachments").Create(message).Error
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (s *GormStore) CreateAttachment(ctx context.Context, attachment *models.Attachment) error {
	return s.db.WithContext(ctx).Create(attachment).Error
}

func (s *GormStore) ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&attachments).Error
	return attachments, err
}

func (s *GormStore) FindAttachmentByStorageKey(ctx context.Context, key string) (*models.Attachment, error) {
	var attachment models.Attachment
	if err := s.db.WithContext(ctx).First(&attachment, "storage_key = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return &attachment, nil
}

func (s *GormStore) FindUnboundAttachmentsByOriginalName(ctx context.Context, name string) ([]models.Attachment, error) {
	var attachments []models.Attachment
	err := s.db.WithContext(ctx).
		Where("original_name = ? AND message_id IS NULL", name).
		Order("created_at ASC").
		Find(&attachments).Error
	return attachments, err
}

// BindAttachment is a conditional update; the row count tells the caller whether it won
func (s *GormStore) BindAttachment(ctx context.Context, attachmentID, messageID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Attachment{}).
		Where("id = ? AND message_id IS NULL", attachmentID).
		Update("message_id", messageID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListOrphanAttachments(ctx context.Context, createdBefore time.Time) ([]models.Attachment, error) {
	var attachments []models.Attachment
	err := s.db.WithContext(ctx).
		Where("message_id IS NULL AND created_at < ?", createdBefore).
		Order("created_at ASC").
		Find(&attachments).Error
	return attachments, err
}

// DeleteUnboundAttachment removes the record only while no message owns it
func (s *GormStore) DeleteUnboundAttachment(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND message_id IS NULL", id).
		Delete(&models.Attachment{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

var _ Store = (*GormStore)(nil)
