package models

import (
	"strings"
	"time"
)

// MediaKind is the coarse classification of an uploaded file
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// FileRoutePrefix is the public path under which stored blobs are served
const FileRoutePrefix = "/api/files/"

// Attachment is an uploaded file. It is created unbound and later bound to
// exactly one message; once MessageID is set it never changes.
type Attachment struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	MessageID    *string   `json:"messageId,omitempty" gorm:"index;size:36"`
	StorageKey   string    `json:"fileName" gorm:"uniqueIndex;size:255;not null"`
	DeclaredName string    `json:"declaredName" gorm:"size:255"`
	OriginalName string    `json:"originalName" gorm:"index;size:255"`
	MimeType     string    `json:"mimeType" gorm:"size:128"`
	ByteSize     int64     `json:"fileSize"`
	MediaKind    MediaKind `json:"attachmentType" gorm:"size:16"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index"`
}

// TableName keeps the historical table name
func (Attachment) TableName() string {
	return "message_attachments"
}

// IsImage reports whether the attachment can be fed to a vision model
func (a Attachment) IsImage() bool {
	return a.MediaKind == MediaImage
}

// IsBound reports whether the attachment already belongs to a message
func (a Attachment) IsBound() bool {
	return a.MessageID != nil && *a.MessageID != ""
}

// FileURL is the server-relative URL the blob is served from
func (a Attachment) FileURL() string {
	return FileRoutePrefix + a.StorageKey
}

// MediaKindFor classifies a MIME type
func MediaKindFor(mimeType string) MediaKind {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaAudio
	case strings.HasPrefix(mimeType, "video/"):
		return MediaVideo
	case strings.Contains(mimeType, "pdf"),
		strings.Contains(mimeType, "document"),
		strings.HasPrefix(mimeType, "text/"):
		return MediaDocument
	default:
		return MediaOther
	}
}
