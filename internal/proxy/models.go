package proxy

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/llmgate/llmgate/internal/config"
)

// Model is one entry in the /v1/models listing, OpenAI list format.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the OpenAI model list envelope.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ModelsHandler serves GET /v1/models with the gateway model names from the
// live rule set. Concrete upstream model names are not exposed.
type ModelsHandler struct {
	runtime config.RuntimeConfig
}

// NewModelsHandler creates a models handler backed by the live config.
func NewModelsHandler(runtime config.RuntimeConfig) *ModelsHandler {
	return &ModelsHandler{runtime: runtime}
}

// ServeHTTP handles GET /v1/models requests.
func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	cfg := h.runtime.Get()

	models := lo.Map(cfg.Rules, func(rule config.FallbackRule, _ int) Model {
		return Model{
			ID:      rule.Model,
			Object:  "model",
			OwnedBy: "llmgate",
		}
	})

	writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: models})
}
