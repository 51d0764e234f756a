package ai

// Part types of a multimodal message
const (
	PartText  = "text"
	PartImage = "image_url"
)

// ProviderRequest is the fully assembled call for one provider round trip
type ProviderRequest struct {
	Capability Capability
	Model      string

	// Chat completion fields
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64

	// Image generation fields
	Prompt  string
	N       int
	Size    string
	Quality string
}

// ChatMessage is one entry of the chat completion messages array.
// Content is a plain string for text requests and []ContentPart for vision requests.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is a text or image fragment of a multimodal message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL points the provider at an image, either remote or inlined as a data URI
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ImageInput is an image handed to the builder. Exactly one of URL and StorageKey is set.
type ImageInput struct {
	// URL is a remote image passed through untouched
	URL string
	// StorageKey names a blob on our own storage, which is inlined as base64
	StorageKey string
	// MimeType is the recorded type of the stored blob, if known
	MimeType string
}

// IsLocal reports whether the image must be loaded from blob storage
func (i ImageInput) IsLocal() bool {
	return i.StorageKey != ""
}

// Options are per-request overrides supplied by the caller
type Options struct {
	ImageURL    string   `json:"imageUrl,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Size        string   `json:"size,omitempty"`
	Quality     string   `json:"quality,omitempty"`
}

// Defaults are the configured fallbacks for anything a request leaves empty
type Defaults struct {
	TextModel    string
	VisionModel  string
	ImageModel   string
	MaxTokens    int
	Temperature  float64
	ImageSize    string
	ImageQuality string
	ImageDetail  string
}

// DefaultSettings mirrors the configuration defaults
func DefaultSettings() Defaults {
	return Defaults{
		TextModel:    "openai/gpt-4.1-nano",
		VisionModel:  "openai/gpt-4.1-nano",
		ImageModel:   "dall-e-3",
		MaxTokens:    1000,
		Temperature:  0.7,
		ImageSize:    "1024x1024",
		ImageQuality: "standard",
		ImageDetail:  "auto",
	}
}
