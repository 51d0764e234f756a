package ai

import "strings"

// Capability is the kind of work a chat asks the provider for
type Capability string

const (
	CapabilityTextToText   Capability = "text-to-text"
	CapabilityConversation Capability = "conversation"
	CapabilityImageToText  Capability = "image-to-text"
	CapabilityTextToImage  Capability = "text-to-image"
	CapabilityImageToImage Capability = "image-to-image"
	CapabilityTextTo3D     Capability = "text-to-3d"
	CapabilityTextToVideo  Capability = "text-to-video"
	// CapabilityUnknown is any tag we do not recognise; it is served as plain text
	CapabilityUnknown Capability = "unknown"
)

var knownCapabilities = []Capability{
	CapabilityTextToText,
	CapabilityConversation,
	CapabilityImageToText,
	CapabilityTextToImage,
	CapabilityImageToImage,
	CapabilityTextTo3D,
	CapabilityTextToVideo,
}

// ParseCapability accepts the dashed tags as well as the legacy snake and upper case
// spellings ("TEXT_TO_IMAGE"). Empty input yields text-to-text.
func ParseCapability(tag string) Capability {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "" {
		return CapabilityTextToText
	}
	for _, c := range knownCapabilities {
		if string(c) == normalized {
			return c
		}
	}
	return CapabilityUnknown
}

// Known reports whether c is one of the supported tags
func (c Capability) Known() bool {
	for _, k := range knownCapabilities {
		if k == c {
			return true
		}
	}
	return false
}

// RequiresImage reports whether a request cannot be built without an image
func (c Capability) RequiresImage() bool {
	return c == CapabilityImageToText
}

// GeneratesImage reports whether the provider answers with an image
func (c Capability) GeneratesImage() bool {
	return c == CapabilityTextToImage
}

// Placeholder reports capabilities that are advertised but not served yet
func (c Capability) Placeholder() bool {
	switch c {
	case CapabilityImageToImage, CapabilityTextTo3D, CapabilityTextToVideo:
		return true
	}
	return false
}
