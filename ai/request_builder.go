package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultVisionPrompt is sent when an image arrives without any text
const DefaultVisionPrompt = "Please analyze this image."

// BlobReader loads stored file bytes by storage key
type BlobReader interface {
	ReadFile(key string) ([]byte, error)
}

// BuildParams is everything the builder needs for one request
type BuildParams struct {
	Capability Capability
	Model      string
	Text       string
	Images     []ImageInput
	Options    Options
}

// RequestBuilder turns a capability, text and images into a provider payload.
// It holds no per-call state.
type RequestBuilder struct {
	blobs    BlobReader
	defaults Defaults
	log      *logger.Logger
}

func NewRequestBuilder(blobs BlobReader, defaults Defaults, log *logger.Logger) *RequestBuilder {
	return &RequestBuilder{blobs: blobs, defaults: defaults, log: log}
}

// Build assembles the request. Only image-to-text, text-to-image and the text
// capabilities produce requests; callers never build placeholder capabilities.
func (b *RequestBuilder) Build(ctx context.Context, p BuildParams) (*ProviderRequest, error) {
	model := b.resolveModel(p.Capability, p.Model)

	switch {
	case p.Capability.GeneratesImage():
		return b.buildImageGeneration(model, p), nil
	case p.Capability.RequiresImage():
		if len(p.Images) == 0 {
			return nil, &BuildError{Capability: p.Capability, Err: ErrImageRequired}
		}
		return b.buildVision(ctx, model, p)
	default:
		return b.buildText(model, p), nil
	}
}

// resolveModel applies the capability default to empty or legacy model names
func (b *RequestBuilder) resolveModel(c Capability, model string) string {
	model = strings.TrimSpace(model)
	if model != "" && !legacyAliases[model] {
		// a text-only catalog model cannot see images
		if info, ok := LookupModel(model); ok && c.RequiresImage() && !info.SupportsImage {
			return b.defaults.VisionModel
		}
		return model
	}
	switch {
	case c.GeneratesImage():
		return b.defaults.ImageModel
	case c.RequiresImage():
		return b.defaults.VisionModel
	default:
		return b.defaults.TextModel
	}
}

func (b *RequestBuilder) chatParams(req *ProviderRequest, opts Options) {
	req.MaxTokens = b.defaults.MaxTokens
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	req.Temperature = b.defaults.Temperature
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
}

func (b *RequestBuilder) buildText(model string, p BuildParams) *ProviderRequest {
	req := &ProviderRequest{
		Capability: p.Capability,
		Model:      model,
		Messages:   []ChatMessage{{Role: "user", Content: p.Text}},
	}
	b.chatParams(req, p.Options)
	return req
}

func (b *RequestBuilder) buildVision(ctx context.Context, model string, p BuildParams) (*ProviderRequest, error) {
	text := strings.TrimSpace(p.Text)
	if text == "" {
		text = DefaultVisionPrompt
	}

	parts := []ContentPart{{Type: PartText, Text: text}}
	for _, img := range p.Images {
		url, err := b.imageURL(img)
		if err != nil {
			b.log.WithContext(ctx).Warn("Failed to inline image",
				"storage_key", img.StorageKey,
				"error", err.Error(),
			)
			return nil, &BuildError{Capability: p.Capability, Err: fmt.Errorf("%w: %v", ErrImageLoad, err)}
		}
		parts = append(parts, ContentPart{
			Type:     PartImage,
			ImageURL: &ImageURL{URL: url, Detail: b.defaults.ImageDetail},
		})
	}

	req := &ProviderRequest{
		Capability: p.Capability,
		Model:      model,
		Messages:   []ChatMessage{{Role: "user", Content: parts}},
	}
	b.chatParams(req, p.Options)
	return req, nil
}

func (b *RequestBuilder) buildImageGeneration(model string, p BuildParams) *ProviderRequest {
	req := &ProviderRequest{
		Capability: p.Capability,
		Model:      model,
		Prompt:     p.Text,
		N:          1,
		Size:       b.defaults.ImageSize,
		Quality:    b.defaults.ImageQuality,
	}
	if p.Options.Size != "" {
		req.Size = p.Options.Size
	}
	if p.Options.Quality != "" {
		req.Quality = p.Options.Quality
	}
	return req
}

// imageURL returns remote URLs untouched and inlines local blobs as data URIs
func (b *RequestBuilder) imageURL(img ImageInput) (string, error) {
	if !img.IsLocal() {
		return img.URL, nil
	}
	if b.blobs == nil {
		return "", fmt.Errorf("no blob storage configured")
	}
	data, err := b.blobs.ReadFile(img.StorageKey)
	if err != nil {
		return "", err
	}
	return DataURI(img.MimeType, data), nil
}

// DataURI encodes data as data:<mime>;base64,<payload>. A missing or non-image
// MIME type is sniffed from the bytes and falls back to image/png.
func DataURI(mimeType string, data []byte) string {
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mimetype.Detect(data).String()
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/png"
		}
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
