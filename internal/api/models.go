package api

import (
	"net/http"

	"github.com/magicyang-1/chatshare-sub001/ai"

	"github.com/gin-gonic/gin"
)

// ProviderStatus reports whether the AI provider can currently be reached
type ProviderStatus interface {
	Configured() bool
}

// BreakerStatus exposes the provider circuit breaker
type BreakerStatus interface {
	GetMetrics() map[string]interface{}
}

// ModelHandler lists the models clients may pick and reports provider status
type ModelHandler struct {
	provider ProviderStatus
	breaker  BreakerStatus
	defaults ai.Defaults
}

func NewModelHandler(provider ProviderStatus, breaker BreakerStatus, defaults ai.Defaults) *ModelHandler {
	return &ModelHandler{provider: provider, breaker: breaker, defaults: defaults}
}

func (h *ModelHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/models", h.ListModels)
	rg.GET("/models/vision", h.ListVisionModels)
	rg.GET("/ai/status", h.Status)
}

func (h *ModelHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  ai.Catalog,
		"default": h.defaults.TextModel,
	})
}

func (h *ModelHandler) ListVisionModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  ai.VisionModels(),
		"default": h.defaults.VisionModel,
	})
}

// Status reports configuration and breaker state, never the API key
func (h *ModelHandler) Status(c *gin.Context) {
	resp := gin.H{
		"configured": h.provider.Configured(),
		"models": gin.H{
			"text":   h.defaults.TextModel,
			"vision": h.defaults.VisionModel,
			"image":  h.defaults.ImageModel,
		},
	}
	if h.breaker != nil {
		resp["breaker"] = h.breaker.GetMetrics()
	}
	c.JSON(http.StatusOK, resp)
}
