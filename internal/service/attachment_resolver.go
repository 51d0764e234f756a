package service

import (
	"context"
	"errors"
	"strings"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/internal/repository"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
)

// ClientAttachmentRef is how a client names a file it uploaded earlier.
// Any of the fields may be empty.
type ClientAttachmentRef struct {
	FileID       string `json:"fileId"`
	FileName     string `json:"fileName"`
	OriginalName string `json:"originalName"`
}

// attachmentMatcher is one lookup strategy; the first to find a record wins
type attachmentMatcher struct {
	name  string
	match func(ctx context.Context, ref ClientAttachmentRef) (models.Attachment, bool)
}

// AttachmentResolver binds client attachment references to a message.
// Matching is best effort: failures are logged and reported, never returned.
type AttachmentResolver struct {
	store    repository.AttachmentStore
	log      *logger.Logger
	matchers []attachmentMatcher
}

func NewAttachmentResolver(store repository.AttachmentStore, log *logger.Logger) *AttachmentResolver {
	r := &AttachmentResolver{store: store, log: log}
	r.matchers = []attachmentMatcher{
		{name: "file_id", match: r.byStorageKey(func(ref ClientAttachmentRef) string { return ref.FileID })},
		{name: "file_name", match: r.byStorageKey(func(ref ClientAttachmentRef) string { return ref.FileName })},
		{name: "original_name", match: r.byOriginalName},
	}
	return r
}

// Resolve binds every ref it can to messageID and returns how many ended up
// bound to it, plus the refs that could not be matched or bound.
func (r *AttachmentResolver) Resolve(ctx context.Context, messageID string, refs []ClientAttachmentRef) (int, []ClientAttachmentRef) {
	log := r.log.WithContext(ctx)
	bound := 0
	var unresolved []ClientAttachmentRef

	for _, ref := range refs {
		att, via, ok := r.lookup(ctx, ref)
		if !ok {
			log.Warn("Attachment not found", "file_id", ref.FileID, "file_name", ref.FileName, "original_name", ref.OriginalName)
			unresolved = append(unresolved, ref)
			continue
		}

		if att.IsBound() {
			if *att.MessageID == messageID {
				bound++
				continue
			}
			log.Warn("Attachment already bound to another message",
				"attachment_id", att.ID,
				"message_id", messageID,
				"bound_to", *att.MessageID,
			)
			unresolved = append(unresolved, ref)
			continue
		}

		won, err := r.store.BindAttachment(ctx, att.ID, messageID)
		if err != nil {
			log.LogError(err, "Failed to bind attachment", "attachment_id", att.ID, "message_id", messageID)
			unresolved = append(unresolved, ref)
			continue
		}
		if !won {
			log.Warn("Attachment was bound concurrently", "attachment_id", att.ID, "message_id", messageID)
			unresolved = append(unresolved, ref)
			continue
		}

		log.Debug("Attachment bound", "attachment_id", att.ID, "message_id", messageID, "matched_by", via)
		bound++
	}

	return bound, unresolved
}

func (r *AttachmentResolver) lookup(ctx context.Context, ref ClientAttachmentRef) (models.Attachment, string, bool) {
	for _, m := range r.matchers {
		if att, ok := m.match(ctx, ref); ok {
			return att, m.name, true
		}
	}
	return models.Attachment{}, "", false
}

func (r *AttachmentResolver) byStorageKey(field func(ClientAttachmentRef) string) func(context.Context, ClientAttachmentRef) (models.Attachment, bool) {
	return func(ctx context.Context, ref ClientAttachmentRef) (models.Attachment, bool) {
		key := strings.TrimSpace(field(ref))
		if key == "" {
			return models.Attachment{}, false
		}
		att, err := r.store.FindAttachmentByStorageKey(ctx, key)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				r.log.WithContext(ctx).LogError(err, "Attachment lookup failed", "storage_key", key)
			}
			return models.Attachment{}, false
		}
		return *att, true
	}
}

// byOriginalName takes the oldest unbound upload with the client's file name
func (r *AttachmentResolver) byOriginalName(ctx context.Context, ref ClientAttachmentRef) (models.Attachment, bool) {
	name := strings.TrimSpace(ref.OriginalName)
	if name == "" {
		return models.Attachment{}, false
	}
	candidates, err := r.store.FindUnboundAttachmentsByOriginalName(ctx, name)
	if err != nil {
		r.log.WithContext(ctx).LogError(err, "Attachment lookup failed", "original_name", name)
		return models.Attachment{}, false
	}
	if len(candidates) == 0 {
		return models.Attachment{}, false
	}
	return candidates[0], true
}
