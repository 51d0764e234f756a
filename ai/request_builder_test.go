package ai

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBlobs is a BlobReader over a map
type memBlobs map[string][]byte

func (m memBlobs) ReadFile(key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// pngHeader is enough for content sniffing to report image/png
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestBuilder(blobs BlobReader) *RequestBuilder {
	return NewRequestBuilder(blobs, DefaultSettings(), logger.Discard())
}

func visionParts(t *testing.T, req *ProviderRequest) []ContentPart {
	t.Helper()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	parts, ok := req.Messages[0].Content.([]ContentPart)
	require.True(t, ok, "vision content should be a part list")
	return parts
}

func TestBuildTextIsPlainString(t *testing.T) {
	b := newTestBuilder(nil)

	req, err := b.Build(context.Background(), BuildParams{Capability: CapabilityTextToText, Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4.1-nano", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].Content)
	assert.Equal(t, 1000, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
}

func TestBuildVisionInlinesLocalImage(t *testing.T) {
	blobs := memBlobs{"20240101_120000_deadbeef.png": pngHeader}
	b := newTestBuilder(blobs)

	req, err := b.Build(context.Background(), BuildParams{
		Capability: CapabilityImageToText,
		Text:       "what is this?",
		Images:     []ImageInput{{StorageKey: "20240101_120000_deadbeef.png"}},
	})
	require.NoError(t, err)

	parts := visionParts(t, req)
	require.Len(t, parts, 2)
	assert.Equal(t, PartText, parts[0].Type)
	assert.Equal(t, "what is this?", parts[0].Text)
	assert.Equal(t, PartImage, parts[1].Type)
	assert.Equal(t, "auto", parts[1].ImageURL.Detail)

	url := parts[1].ImageURL.URL
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"), url)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, decoded)
}

func TestBuildVisionPassesRemoteURLThrough(t *testing.T) {
	b := newTestBuilder(memBlobs{})
	remote := "https://cdn.example.com/cat.jpg?sig=a%2Fb&x=1"

	req, err := b.Build(context.Background(), BuildParams{
		Capability: CapabilityImageToText,
		Images:     []ImageInput{{URL: remote}},
	})
	require.NoError(t, err)

	parts := visionParts(t, req)
	assert.Equal(t, DefaultVisionPrompt, parts[0].Text)
	assert.Equal(t, remote, parts[1].ImageURL.URL)
}

func TestBuildVisionWithoutImageFails(t *testing.T) {
	b := newTestBuilder(nil)

	_, err := b.Build(context.Background(), BuildParams{Capability: CapabilityImageToText, Text: "describe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuild)
	assert.ErrorIs(t, err, ErrImageRequired)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, CapabilityImageToText, buildErr.Capability)
}

func TestBuildVisionMissingBlob(t *testing.T) {
	b := newTestBuilder(memBlobs{})

	_, err := b.Build(context.Background(), BuildParams{
		Capability: CapabilityImageToText,
		Images:     []ImageInput{{StorageKey: "gone.png"}},
	})
	assert.ErrorIs(t, err, ErrImageLoad)
}

func TestBuildImageGeneration(t *testing.T) {
	b := newTestBuilder(nil)

	req, err := b.Build(context.Background(), BuildParams{
		Capability: CapabilityTextToImage,
		Text:       "a lighthouse at dusk",
		Options:    Options{Quality: "hd"},
	})
	require.NoError(t, err)

	assert.Equal(t, "dall-e-3", req.Model)
	assert.Equal(t, "a lighthouse at dusk", req.Prompt)
	assert.Equal(t, 1, req.N)
	assert.Equal(t, "1024x1024", req.Size)
	assert.Equal(t, "hd", req.Quality)
	assert.Empty(t, req.Messages)
}

func TestModelResolution(t *testing.T) {
	b := newTestBuilder(memBlobs{"k.png": pngHeader})
	ctx := context.Background()

	req, err := b.Build(ctx, BuildParams{Capability: CapabilityTextToText, Model: "qwen2.5b-local", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4.1-nano", req.Model)

	req, err = b.Build(ctx, BuildParams{Capability: CapabilityTextToImage, Model: "qwen2.5b-local", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "dall-e-3", req.Model)

	req, err = b.Build(ctx, BuildParams{Capability: CapabilityTextToText, Model: "google/gemini-2.5-flash", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-flash", req.Model)

	req, err = b.Build(ctx, BuildParams{
		Capability: CapabilityImageToText,
		Model:      "deepseek/deepseek-r1-distill-qwen-7b",
		Images:     []ImageInput{{StorageKey: "k.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4.1-nano", req.Model)
}

func TestDataURIMimeFallbacks(t *testing.T) {
	assert.True(t, strings.HasPrefix(DataURI("image/webp", []byte("x")), "data:image/webp;base64,"))
	assert.True(t, strings.HasPrefix(DataURI("", pngHeader), "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(DataURI("application/octet-stream", []byte("plain text")), "data:image/png;base64,"))
}

func TestParseCapability(t *testing.T) {
	assert.Equal(t, CapabilityTextToImage, ParseCapability("TEXT_TO_IMAGE"))
	assert.Equal(t, CapabilityImageToText, ParseCapability("image_to_text"))
	assert.Equal(t, CapabilityConversation, ParseCapability(" conversation "))
	assert.Equal(t, CapabilityTextToText, ParseCapability(""))
	assert.Equal(t, CapabilityUnknown, ParseCapability("text-to-music"))
	assert.True(t, CapabilityTextTo3D.Placeholder())
	assert.False(t, CapabilityUnknown.Known())
}
