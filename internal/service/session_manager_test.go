package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/magicyang-1/chatshare-sub001/ai"
	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/internal/repository"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDispatcher answers every turn with a fixed outcome
type stubDispatcher struct {
	mu       sync.Mutex
	outcome  ai.Outcome
	requests []ai.DispatchRequest
}

func (s *stubDispatcher) Dispatch(_ context.Context, req ai.DispatchRequest) ai.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.outcome
}

type managerFixture struct {
	store   *repository.MemoryStore
	blobs   *storage.LocalStore
	manager *SessionManager
}

func newManagerFixture(t *testing.T, d Dispatcher) managerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log := logger.Discard()
	return managerFixture{
		store:   store,
		blobs:   blobs,
		manager: NewSessionManager(store, NewAttachmentResolver(store, log), d, blobs, log),
	}
}

func (f managerFixture) session(t *testing.T, owner uint, capability string) *models.ChatSession {
	t.Helper()
	s, err := f.manager.CreateSession(context.Background(), CreateSessionRequest{OwnerID: owner, Capability: capability})
	require.NoError(t, err)
	return s
}

func TestSendStoresBothMessages(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{State: ai.StateDone, Capability: ai.CapabilityTextToText, Reply: "Hi!"}}
	f := newManagerFixture(t, d)
	s := f.session(t, 1, "")

	res, err := f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 1, Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.UserMessage.Content)
	assert.Equal(t, "Hi!", res.AssistantMessage.Content)
	assert.True(t, res.AssistantMessage.CreatedAt.After(res.UserMessage.CreatedAt))

	msgs, err := f.store.ListMessages(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	stored, err := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MessageCount)

	require.Len(t, d.requests, 1)
	assert.Equal(t, ai.CapabilityTextToText, d.requests[0].Capability)
	assert.Empty(t, d.requests[0].SourceMessageID)
}

func TestSendDegradedReplyIsStored(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{
		State:      ai.StateDegraded,
		Capability: ai.CapabilityTextToText,
		Reply:      ai.MsgProviderUnavailable,
		Err:        &ai.ProviderError{Kind: ai.KindUpstream, StatusCode: 500},
	}}
	f := newManagerFixture(t, d)
	s := f.session(t, 1, "text-to-text")

	res, err := f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 1, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, ai.StateDegraded, res.Outcome.State)
	assert.Equal(t, ai.MsgProviderUnavailable, res.AssistantMessage.Content)
	assert.Equal(t, 2, res.Session.MessageCount)

	msgs, _ := f.store.ListMessages(context.Background(), s.ID)
	assert.Len(t, msgs, 2)
}

// slowDispatcher holds each turn long enough for concurrent sends to overlap
type slowDispatcher struct{ delay time.Duration }

func (d slowDispatcher) Dispatch(ctx context.Context, _ ai.DispatchRequest) ai.Outcome {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
	}
	return ai.Outcome{State: ai.StateDone, Capability: ai.CapabilityTextToText, Reply: "ok"}
}

func TestConcurrentSendsKeepMessageCount(t *testing.T) {
	f := newManagerFixture(t, slowDispatcher{delay: 20 * time.Millisecond})
	s := f.session(t, 1, "")
	ctx := context.Background()

	const sends = 5
	var wg sync.WaitGroup
	for i := 0; i < sends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Send(ctx, SendRequest{SessionID: s.ID, CallerID: 1, Text: "hello"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := f.store.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2*sends)

	got, err := f.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*sends, got.MessageCount)
}

func TestSettingsDoNotRewindMessageCount(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{State: ai.StateDone, Capability: ai.CapabilityTextToText, Reply: "ok"}}
	f := newManagerFixture(t, d)
	s := f.session(t, 1, "")
	ctx := context.Background()

	_, err := f.manager.Send(ctx, SendRequest{SessionID: s.ID, CallerID: 1, Text: "hello"})
	require.NoError(t, err)

	renamed, err := f.manager.Rename(ctx, s.ID, 1, "Later title")
	require.NoError(t, err)
	assert.Equal(t, 2, renamed.MessageCount)
	assert.Equal(t, "Later title", renamed.Title)
}

// brokenAttachmentList fails every reload of a message's attachments
type brokenAttachmentList struct{ *repository.MemoryStore }

func (brokenAttachmentList) ListAttachments(context.Context, string) ([]models.Attachment, error) {
	return nil, errors.New("connection reset")
}

func TestSendSurvivesAttachmentReloadFailure(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{State: ai.StateDone, Capability: ai.CapabilityImageToText, Reply: "seen"}}
	store := brokenAttachmentList{repository.NewMemoryStore()}
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log := logger.Discard()
	manager := NewSessionManager(store, NewAttachmentResolver(store, log), d, blobs, log)
	ctx := context.Background()

	seedAttachment(t, store, "a1", "2026/10/19/a1.png", "cat.png", time.Now())
	s, err := manager.CreateSession(ctx, CreateSessionRequest{OwnerID: 1})
	require.NoError(t, err)

	res, err := manager.Send(ctx, SendRequest{
		SessionID:   s.ID,
		CallerID:    1,
		Attachments: []ClientAttachmentRef{{FileID: "2026/10/19/a1.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BoundCount)
	assert.Empty(t, res.UserMessage.Attachments)
	assert.Equal(t, "seen", res.AssistantMessage.Content)
	assert.Equal(t, 2, res.Session.MessageCount)
}

func TestSendRejectsEmptyInput(t *testing.T) {
	d := &stubDispatcher{}
	f := newManagerFixture(t, d)
	s := f.session(t, 1, "")

	_, err := f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 1, Text: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	msgs, _ := f.store.ListMessages(context.Background(), s.ID)
	assert.Empty(t, msgs)
	assert.Empty(t, d.requests)
}

func TestSendHidesOtherUsersSessions(t *testing.T) {
	f := newManagerFixture(t, &stubDispatcher{})
	s := f.session(t, 1, "")

	_, err := f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 2, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.Send(context.Background(), SendRequest{SessionID: "missing", CallerID: 1, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendRequestOverridesSessionSettings(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{State: ai.StateDone, Reply: "ok"}}
	f := newManagerFixture(t, d)
	s, err := f.manager.CreateSession(context.Background(), CreateSessionRequest{OwnerID: 1, Capability: "conversation", Model: "google/gemini-2.5-flash"})
	require.NoError(t, err)

	_, err = f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 1, Text: "a"})
	require.NoError(t, err)
	_, err = f.manager.Send(context.Background(), SendRequest{SessionID: s.ID, CallerID: 1, Text: "b", Capability: "text_to_image", Model: "dall-e-3"})
	require.NoError(t, err)

	require.Len(t, d.requests, 2)
	assert.Equal(t, ai.CapabilityConversation, d.requests[0].Capability)
	assert.Equal(t, "google/gemini-2.5-flash", d.requests[0].Model)
	assert.Equal(t, ai.CapabilityTextToImage, d.requests[1].Capability)
	assert.Equal(t, "dall-e-3", d.requests[1].Model)
}

// An image-only turn runs end to end: upload record, binding, data URI and provider call.
func TestSendImageOnlyTurnReachesProvider(t *testing.T) {
	var payload struct {
		Messages []struct {
			Content []ai.ContentPart `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"A tiny square."}}]}`))
	}))
	t.Cleanup(srv.Close)

	store := repository.NewMemoryStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log := logger.Discard()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	key := "20240301_101500_0a1b2c3d.png"
	require.NoError(t, blobs.WriteFile(key, png))
	require.NoError(t, store.CreateAttachment(context.Background(), &models.Attachment{
		ID: "att-1", StorageKey: key, OriginalName: "square.png", MimeType: "image/png",
		MediaKind: models.MediaImage, CreatedAt: time.Now(),
	}))

	client := ai.NewProviderClient(ai.ProviderConfig{BaseURL: srv.URL, APIKey: "k"}, log)
	builder := ai.NewRequestBuilder(blobs, ai.DefaultSettings(), log)
	dispatcher := ai.NewDispatcher(builder, client, store, "http://localhost:8080", log)
	manager := NewSessionManager(store, NewAttachmentResolver(store, log), dispatcher, blobs, log)

	s, err := manager.CreateSession(context.Background(), CreateSessionRequest{OwnerID: 7, Capability: "conversation"})
	require.NoError(t, err)

	res, err := manager.Send(context.Background(), SendRequest{
		SessionID:   s.ID,
		CallerID:    7,
		Attachments: []ClientAttachmentRef{{FileID: key}},
	})
	require.NoError(t, err)

	assert.Equal(t, ai.DefaultVisionPrompt, res.UserMessage.Content)
	assert.Equal(t, 1, res.BoundCount)
	require.Len(t, res.UserMessage.Attachments, 1)
	assert.Equal(t, ai.StateDone, res.Outcome.State)
	assert.Equal(t, ai.CapabilityImageToText, res.Outcome.Capability)
	assert.Equal(t, "A tiny square.", res.AssistantMessage.Content)

	require.Len(t, payload.Messages, 1)
	parts := payload.Messages[0].Content
	require.Len(t, parts, 2)
	assert.Equal(t, ai.DefaultVisionPrompt, parts[0].Text)
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newManagerFixture(t, &stubDispatcher{})

	s := f.session(t, 3, "")
	assert.Equal(t, DefaultSessionTitle, s.Title)
	assert.Equal(t, string(ai.CapabilityTextToText), s.Capability)

	_, err := f.manager.CreateSession(context.Background(), CreateSessionRequest{OwnerID: 3, Capability: "text-to-music"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionSettings(t *testing.T) {
	f := newManagerFixture(t, &stubDispatcher{})
	s := f.session(t, 1, "")
	ctx := context.Background()

	renamed, err := f.manager.Rename(ctx, s.ID, 1, "  Trip plans ")
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", renamed.Title)

	_, err = f.manager.Rename(ctx, s.ID, 1, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	withModel, err := f.manager.SetModel(ctx, s.ID, 1, "deepseek/deepseek-r1-distill-qwen-7b")
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-r1-distill-qwen-7b", withModel.ModelHint)

	fav, err := f.manager.ToggleFavorite(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.True(t, fav.Favorite)
	fav, err = f.manager.ToggleFavorite(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.False(t, fav.Favorite)

	_, err = f.manager.ToggleFavorite(ctx, s.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	d := &stubDispatcher{outcome: ai.Outcome{State: ai.StateDone, Reply: "ok"}}
	f := newManagerFixture(t, d)
	ctx := context.Background()
	s := f.session(t, 1, "")

	key := "20240301_101500_deadbeef.png"
	require.NoError(t, f.blobs.WriteFile(key, []byte("png")))
	seedAttachment(t, f.store, "att", key, "x.png", time.Now())
	_, err := f.manager.Send(ctx, SendRequest{SessionID: s.ID, CallerID: 1, Text: "look", Attachments: []ClientAttachmentRef{{FileID: key}}})
	require.NoError(t, err)

	_, err = f.manager.ToggleProtection(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, f.manager.DeleteSession(ctx, s.ID, 1), ErrSessionProtected)

	_, err = f.manager.ToggleProtection(ctx, s.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.manager.DeleteSession(ctx, s.ID, 1))

	_, err = f.manager.GetSession(ctx, s.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.blobs.ReadFile(key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSessionsPaging(t *testing.T) {
	f := newManagerFixture(t, &stubDispatcher{})
	for i := 0; i < 3; i++ {
		f.session(t, 1, "")
	}
	f.session(t, 2, "")

	page, total, err := f.manager.ListSessions(context.Background(), 1, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, page, 2)

	page, _, err = f.manager.ListSessions(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
