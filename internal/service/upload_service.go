package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/internal/repository"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// supportedImageTypes maps accepted image mime types to their stored extension
var supportedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// UploadService stores uploaded files and records them as unbound attachments
type UploadService struct {
	store   repository.AttachmentStore
	blobs   storage.BlobStore
	maxSize int64
	log     *logger.Logger
	now     func() time.Time
}

func NewUploadService(store repository.AttachmentStore, blobs storage.BlobStore, maxSize int64, log *logger.Logger) *UploadService {
	return &UploadService{
		store:   store,
		blobs:   blobs,
		maxSize: maxSize,
		log:     log,
		now:     time.Now,
	}
}

// MaxSize is the largest accepted upload in bytes
func (s *UploadService) MaxSize() int64 {
	return s.maxSize
}

// Upload stores data under a fresh storage key. The attachment stays unbound
// until a message claims it.
func (s *UploadService) Upload(ctx context.Context, originalName string, data []byte) (*models.Attachment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, len(data), s.maxSize)
	}

	detected := mimetype.Detect(data)
	mimeType := detected.String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	kind := models.MediaKindFor(mimeType)

	ext, supported := supportedImageTypes[mimeType]
	if kind == models.MediaImage && !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if !supported {
		ext = strings.ToLower(filepath.Ext(originalName))
		if ext == "" {
			ext = detected.Extension()
		}
	}

	now := s.now()
	id := uuid.New()
	key := now.Format(storage.KeyTimeLayout) + "_" + strings.ReplaceAll(id.String(), "-", "")[:8] + ext

	if err := s.blobs.WriteFile(key, data); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	name := filepath.Base(strings.TrimSpace(originalName))
	if name == "." || name == string(filepath.Separator) {
		name = key
	}

	att := &models.Attachment{
		ID:           id.String(),
		StorageKey:   key,
		DeclaredName: key,
		OriginalName: name,
		MimeType:     mimeType,
		ByteSize:     int64(len(data)),
		MediaKind:    kind,
		CreatedAt:    now,
	}
	if kind == models.MediaImage {
		// webp and bmp have no decoder registered, so they keep nil dimensions
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			att.Width, att.Height = &cfg.Width, &cfg.Height
		}
	}

	if err := s.store.CreateAttachment(ctx, att); err != nil {
		if delErr := s.blobs.Delete(key); delErr != nil {
			s.log.WithContext(ctx).LogError(delErr, "Failed to remove blob after failed insert", "storage_key", key)
		}
		return nil, fmt.Errorf("failed to record attachment: %w", err)
	}

	s.log.WithContext(ctx).Info("File uploaded",
		"storage_key", key,
		"mime_type", mimeType,
		"size", att.ByteSize,
	)
	return att, nil
}

// Open returns the bytes and mime type of a stored file
func (s *UploadService) Open(ctx context.Context, key string) ([]byte, string, error) {
	data, err := s.blobs.ReadFile(key)
	if err != nil {
		return nil, "", err
	}
	mimeType := ""
	if att, err := s.store.FindAttachmentByStorageKey(ctx, key); err == nil {
		mimeType = att.MimeType
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return data, mimeType, nil
}

// CleanOrphans removes uploads that were never bound to a message and are older than maxAge
func (s *UploadService) CleanOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	orphans, err := s.store.ListOrphanAttachments(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list orphan attachments: %w", err)
	}

	removed := 0
	for _, att := range orphans {
		// a message may have claimed it since the listing; only an unbound row is removed
		deleted, err := s.store.DeleteUnboundAttachment(ctx, att.ID)
		if err != nil {
			s.log.LogError(err, "Failed to delete orphan attachment", "attachment_id", att.ID)
			continue
		}
		if !deleted {
			s.log.Debug("Orphan was bound before removal, keeping it", "attachment_id", att.ID)
			continue
		}
		if err := s.blobs.Delete(att.StorageKey); err != nil {
			s.log.LogError(err, "Failed to delete orphan blob", "storage_key", att.StorageKey)
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("Removed orphan uploads", "count", removed)
	}
	return removed, nil
}

// RunOrphanSweeper calls CleanOrphans every period until ctx is done
func (s *UploadService) RunOrphanSweeper(ctx context.Context, period, maxAge time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanOrphans(ctx, maxAge); err != nil {
				s.log.LogError(err, "Orphan sweep failed")
			}
		}
	}
}
