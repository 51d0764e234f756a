package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records every request it receives
type fakeProvider struct {
	mu        sync.Mutex
	text      string
	imageURL  string
	err       error
	requests  []*ProviderRequest
	ctxErrors []error
}

func (f *fakeProvider) CompleteText(ctx context.Context, req *ProviderRequest) (string, error) {
	f.record(ctx, req)
	return f.text, f.err
}

func (f *fakeProvider) GenerateImage(ctx context.Context, req *ProviderRequest) (string, error) {
	f.record(ctx, req)
	return f.imageURL, f.err
}

func (f *fakeProvider) record(ctx context.Context, req *ProviderRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.ctxErrors = append(f.ctxErrors, ctx.Err())
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// attachmentIndex is an AttachmentLister over a map
type attachmentIndex map[string][]models.Attachment

func (a attachmentIndex) ListAttachments(_ context.Context, messageID string) ([]models.Attachment, error) {
	return a[messageID], nil
}

func newTestDispatcher(p Provider, atts AttachmentLister, blobs BlobReader) *Dispatcher {
	return NewDispatcher(newTestBuilder(blobs), p, atts, "http://localhost:8080", logger.Discard())
}

func TestDispatchTextToText(t *testing.T) {
	p := &fakeProvider{text: "Hello!"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityTextToText, Text: "hello"})

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, "Hello!", out.Reply)
	assert.Equal(t, 1, p.calls())
	assert.Equal(t, "hello", p.requests[0].Messages[0].Content)
}

func TestDispatchImageToTextWithoutImage(t *testing.T) {
	p := &fakeProvider{text: "unused"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityImageToText, Text: "what is it"})

	assert.Equal(t, StateDegraded, out.State)
	assert.Contains(t, strings.ToLower(out.Reply), "please provide an image")
	assert.ErrorIs(t, out.Err, ErrImageRequired)
	assert.Equal(t, 0, p.calls())
}

func TestDispatchPlaceholderCapabilities(t *testing.T) {
	for _, c := range []Capability{CapabilityImageToImage, CapabilityTextTo3D, CapabilityTextToVideo} {
		p := &fakeProvider{}
		d := newTestDispatcher(p, attachmentIndex{}, nil)

		out := d.Dispatch(context.Background(), DispatchRequest{Capability: c, Text: "make it"})

		assert.Equal(t, StateDegraded, out.State, c)
		assert.Contains(t, strings.ToLower(out.Reply), "feature in development", c)
		assert.Equal(t, 0, p.calls(), c)
	}
}

func TestDispatchConversationUpgradesToVision(t *testing.T) {
	now := time.Now()
	msgID := "m1"
	atts := attachmentIndex{
		msgID: {
			{ID: "doc", StorageKey: "notes.pdf", MediaKind: models.MediaDocument, CreatedAt: now.Add(-2 * time.Minute)},
			{ID: "second", StorageKey: "second.png", MediaKind: models.MediaImage, MimeType: "image/png", CreatedAt: now},
			{ID: "first", StorageKey: "first.png", MediaKind: models.MediaImage, MimeType: "image/png", CreatedAt: now.Add(-time.Minute)},
		},
	}
	blobs := memBlobs{"first.png": pngHeader, "second.png": []byte("other")}
	p := &fakeProvider{text: "A cat."}
	d := newTestDispatcher(p, atts, blobs)

	out := d.Dispatch(context.Background(), DispatchRequest{
		Capability:      CapabilityConversation,
		SourceMessageID: msgID,
	})

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, CapabilityImageToText, out.Capability)
	require.Equal(t, 1, p.calls())

	parts := p.requests[0].Messages[0].Content.([]ContentPart)
	require.Len(t, parts, 2)
	assert.Equal(t, DefaultVisionPrompt, parts[0].Text)
	assert.Equal(t, DataURI("image/png", pngHeader), parts[1].ImageURL.URL)
}

func TestDispatchExplicitOwnFileURLIsInlined(t *testing.T) {
	p := &fakeProvider{text: "ok"}
	d := newTestDispatcher(p, attachmentIndex{}, memBlobs{"pic.png": pngHeader})

	out := d.Dispatch(context.Background(), DispatchRequest{
		Capability: CapabilityImageToText,
		Text:       "describe",
		Options:    Options{ImageURL: "http://localhost:8080/api/files/pic.png"},
	})

	require.Equal(t, StateDone, out.State)
	parts := p.requests[0].Messages[0].Content.([]ContentPart)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestDispatchExplicitRemoteURL(t *testing.T) {
	p := &fakeProvider{text: "ok"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)
	remote := "https://example.com/a.jpg"

	d.Dispatch(context.Background(), DispatchRequest{
		Capability: CapabilityTextToText,
		Text:       "describe",
		Options:    Options{ImageURL: remote},
	})

	require.Equal(t, 1, p.calls())
	parts := p.requests[0].Messages[0].Content.([]ContentPart)
	assert.Equal(t, remote, parts[1].ImageURL.URL)
}

func TestDispatchProviderFailureDegrades(t *testing.T) {
	p := &fakeProvider{err: &ProviderError{Kind: KindUpstream, StatusCode: 500}}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityTextToText, Text: "hi"})

	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, MsgProviderUnavailable, out.Reply)
	assert.True(t, IsKind(out.Err, KindUpstream))
	assert.Equal(t, 1, p.calls())
}

func TestDispatchEmptyCompletionDegrades(t *testing.T) {
	p := &fakeProvider{text: "  "}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityTextToText, Text: "hi"})

	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, MsgEmptyResponse, out.Reply)
	assert.NoError(t, out.Err)
}

func TestDispatchTextToImage(t *testing.T) {
	p := &fakeProvider{imageURL: "https://img.example.com/x.png"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityTextToImage, Text: "a fox"})

	require.Equal(t, StateDone, out.State)
	assert.Equal(t, "Image generated successfully!\nImage URL: https://img.example.com/x.png", out.Reply)
	assert.Equal(t, "https://img.example.com/x.png", out.ImageURL)
	assert.Equal(t, "a fox", p.requests[0].Prompt)
}

func TestDispatchImageGenerationFailure(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: CapabilityTextToImage, Text: "a fox"})

	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, MsgImageGenerationFailed, out.Reply)
}

func TestDispatchUnknownCapabilityServesText(t *testing.T) {
	p := &fakeProvider{text: "plain"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	out := d.Dispatch(context.Background(), DispatchRequest{Capability: ParseCapability("text-to-music"), Text: "hi"})

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, CapabilityTextToText, out.Capability)
	assert.Equal(t, "plain", out.Reply)
}

func TestDispatchMissingLocalImageDegrades(t *testing.T) {
	p := &fakeProvider{text: "unused"}
	d := newTestDispatcher(p, attachmentIndex{}, memBlobs{})

	out := d.Dispatch(context.Background(), DispatchRequest{
		Capability: CapabilityImageToText,
		Options:    Options{ImageURL: "/api/files/missing.png"},
	})

	assert.Equal(t, StateDegraded, out.State)
	assert.Equal(t, MsgImageProcessingFailed, out.Reply)
	assert.Equal(t, 0, p.calls())
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	p := &fakeProvider{text: "still answered"}
	d := newTestDispatcher(p, attachmentIndex{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Dispatch(ctx, DispatchRequest{Capability: CapabilityTextToText, Text: "hi"})

	assert.Equal(t, StateDone, out.State)
	require.Len(t, p.ctxErrors, 1)
	assert.NoError(t, p.ctxErrors[0])
}
