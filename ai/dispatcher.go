package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/magicyang-1/chatshare-sub001/ai"

// User-visible replies for requests that could not be served normally
const (
	MsgImageRequired         = "Please provide an image so I can analyze it."
	MsgFeatureInDevelopment  = "This feature in development is not available yet. Please try another mode for now."
	MsgProviderUnavailable   = "Sorry, the AI service is temporarily unavailable. Please try again later."
	MsgEmptyResponse         = "Sorry, I could not come up with a response. Please try rephrasing your question."
	MsgImageGenerationFailed = "Sorry, image generation failed. Please try again later."
	MsgImageProcessingFailed = "Sorry, the image could not be processed. Please upload it again."
)

// ImageReplyFormat renders a generated image as the assistant's reply
const ImageReplyFormat = "Image generated successfully!\nImage URL: %s"

// State is a step of a single dispatch
type State string

const (
	StateIdle             State = "idle"
	StateBuildingRequest  State = "building_request"
	StateAwaitingProvider State = "awaiting_provider"
	StateDone             State = "done"
	// StateDegraded is terminal and always carries a non-empty reply
	StateDegraded State = "degraded"
)

// Provider is the subset of ProviderClient the dispatcher calls
type Provider interface {
	CompleteText(ctx context.Context, req *ProviderRequest) (string, error)
	GenerateImage(ctx context.Context, req *ProviderRequest) (string, error)
}

// AttachmentLister reads the attachments bound to a message
type AttachmentLister interface {
	ListAttachments(ctx context.Context, messageID string) ([]models.Attachment, error)
}

// DispatchRequest is one user turn to answer
type DispatchRequest struct {
	Capability Capability
	Model      string
	Text       string
	// SourceMessageID lets the dispatcher infer an image from the message's attachments
	SourceMessageID string
	Options         Options
}

// Outcome is the result of a dispatch. Reply is never empty.
type Outcome struct {
	State State
	// Capability is the one actually served, after any vision upgrade
	Capability Capability
	Reply      string
	ImageURL   string
	// Err is the underlying failure behind a degraded outcome
	Err error
}

// Dispatcher picks how to serve a capability and drives builder and provider.
// It holds no per-call state and is safe for concurrent use.
type Dispatcher struct {
	builder       *RequestBuilder
	provider      Provider
	attachments   AttachmentLister
	publicBaseURL string
	log           *logger.Logger
	outcomes      metric.Int64Counter
}

func NewDispatcher(builder *RequestBuilder, provider Provider, attachments AttachmentLister, publicBaseURL string, log *logger.Logger) *Dispatcher {
	outcomes, err := otel.Meter(instrumentationName).Int64Counter(
		"ai_dispatch",
		metric.WithDescription("Dispatched chat turns by capability and final state"),
	)
	if err != nil {
		log.LogError(err, "Failed to create dispatch counter")
	}

	return &Dispatcher{
		builder:       builder,
		provider:      provider,
		attachments:   attachments,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           log,
		outcomes:      outcomes,
	}
}

// Dispatch answers one turn. Provider failures never escape: they become a
// degraded outcome with an apology as the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) Outcome {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "dispatch",
		trace.WithAttributes(attribute.String("capability", string(req.Capability))))
	defer span.End()

	out := d.dispatch(ctx, req)

	span.SetAttributes(
		attribute.String("state", string(out.State)),
		attribute.String("served_capability", string(out.Capability)),
	)
	if d.outcomes != nil {
		d.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("capability", string(out.Capability)),
			attribute.String("state", string(out.State)),
		))
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, req DispatchRequest) Outcome {
	log := d.log.WithContext(ctx)
	state := StateIdle
	advance := func(next State) {
		log.Debug("Dispatch state changed", "from", string(state), "to", string(next))
		state = next
	}

	capability := req.Capability
	if capability == "" {
		capability = CapabilityTextToText
	}

	if capability.Placeholder() {
		return degraded(capability, MsgFeatureInDevelopment, nil)
	}

	advance(StateBuildingRequest)

	var images []ImageInput
	switch capability {
	case CapabilityTextToImage:
	case CapabilityImageToText:
		img, ok := d.resolveImage(ctx, req)
		if !ok {
			return degraded(capability, MsgImageRequired, &BuildError{Capability: capability, Err: ErrImageRequired})
		}
		images = append(images, img)
	case CapabilityTextToText, CapabilityConversation:
		// an image anywhere in reach silently upgrades the turn to vision
		if img, ok := d.resolveImage(ctx, req); ok {
			capability = CapabilityImageToText
			images = append(images, img)
		}
	default:
		log.Warn("Unrecognized capability, serving as text", "capability", string(capability))
		capability = CapabilityTextToText
	}

	preq, err := d.builder.Build(ctx, BuildParams{
		Capability: capability,
		Model:      req.Model,
		Text:       req.Text,
		Images:     images,
		Options:    req.Options,
	})
	if err != nil {
		if errors.Is(err, ErrImageRequired) {
			return degraded(capability, MsgImageRequired, err)
		}
		return degraded(capability, MsgImageProcessingFailed, err)
	}

	advance(StateAwaitingProvider)

	// detached from request cancellation; the client applies its own timeout
	providerCtx := context.WithoutCancel(ctx)

	if capability.GeneratesImage() {
		url, err := d.provider.GenerateImage(providerCtx, preq)
		if err != nil {
			log.LogError(err, "Image generation failed", "model", preq.Model)
			return degraded(capability, MsgImageGenerationFailed, err)
		}
		if url == "" {
			return degraded(capability, MsgImageGenerationFailed, nil)
		}
		advance(StateDone)
		return Outcome{
			State:      state,
			Capability: capability,
			Reply:      fmt.Sprintf(ImageReplyFormat, url),
			ImageURL:   url,
		}
	}

	text, err := d.provider.CompleteText(providerCtx, preq)
	if err != nil {
		log.LogError(err, "Text completion failed", "model", preq.Model, "capability", string(capability))
		return degraded(capability, MsgProviderUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return degraded(capability, MsgEmptyResponse, nil)
	}

	advance(StateDone)
	return Outcome{State: state, Capability: capability, Reply: text}
}

func degraded(c Capability, reply string, err error) Outcome {
	return Outcome{State: StateDegraded, Capability: c, Reply: reply, Err: err}
}

// resolveImage finds the image for a turn: an explicit URL wins, otherwise the
// oldest image attached to the source message. Read-only.
func (d *Dispatcher) resolveImage(ctx context.Context, req DispatchRequest) (ImageInput, bool) {
	if url := strings.TrimSpace(req.Options.ImageURL); url != "" {
		if key, ok := d.localStorageKey(url); ok {
			return ImageInput{StorageKey: key}, true
		}
		return ImageInput{URL: url}, true
	}

	if req.SourceMessageID == "" || d.attachments == nil {
		return ImageInput{}, false
	}

	atts, err := d.attachments.ListAttachments(ctx, req.SourceMessageID)
	if err != nil {
		d.log.WithContext(ctx).LogError(err, "Failed to list attachments for image inference",
			"message_id", req.SourceMessageID)
		return ImageInput{}, false
	}

	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].CreatedAt.Before(atts[j].CreatedAt)
	})
	for _, att := range atts {
		if att.IsImage() {
			return ImageInput{StorageKey: att.StorageKey, MimeType: att.MimeType}, true
		}
	}
	return ImageInput{}, false
}

// localStorageKey recognises links to our own file route, absolute or relative
func (d *Dispatcher) localStorageKey(url string) (string, bool) {
	path := url
	if d.publicBaseURL != "" && strings.HasPrefix(url, d.publicBaseURL) {
		path = strings.TrimPrefix(url, d.publicBaseURL)
	}
	if !strings.HasPrefix(path, models.FileRoutePrefix) {
		return "", false
	}
	key := strings.TrimPrefix(path, models.FileRoutePrefix)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
