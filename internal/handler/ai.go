package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/smartnotes/internal/ai"
	"github.com/dukerupert/smartnotes/internal/httpx"
)

type AIHandler struct {
	assistant ai.Assistant
	logger    *slog.Logger
}

func NewAIHandler(assistant ai.Assistant, logger *slog.Logger) *AIHandler {
	return &AIHandler{assistant: assistant, logger: logger}
}

type aiRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
	Max     int    `json:"max" validate:"omitempty,min=1,max=10"`
}

func (a *aiRequest) normalize() {
	a.Content = strings.TrimSpace(a.Content)
}

func (h *AIHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req aiRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	summary, err := h.assistant.Summarize(r.Context(), req.Content)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (h *AIHandler) Tags(w http.ResponseWriter, r *http.Request) {
	var req aiRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	tags, err := h.assistant.SuggestTags(r.Context(), req.Content, req.Max)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"tags": tags})
}
