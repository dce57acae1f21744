package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/smartnotes/internal/auth"
	"github.com/dukerupert/smartnotes/internal/httpx"
	"github.com/dukerupert/smartnotes/internal/model"
	"github.com/dukerupert/smartnotes/internal/store"
	"github.com/dukerupert/smartnotes/internal/websocket"
)

// Publisher delivers change notifications to one owner's live connections.
type Publisher interface {
	Publish(ownerID string, msg websocket.Message)
}

type NoteHandler struct {
	notes  *store.NoteStore
	hub    Publisher
	logger *slog.Logger
}

func NewNoteHandler(notes *store.NoteStore, hub Publisher, logger *slog.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, hub: hub, logger: logger}
}

func (h *NoteHandler) publish(ownerID, action, id string) {
	if h.hub != nil {
		h.hub.Publish(ownerID, websocket.NewMessage("note", action, id))
	}
}

type noteRequest struct {
	Title   string   `json:"title" validate:"required,max=200"`
	Content string   `json:"content" validate:"required,max=100000"`
	Tags    []string `json:"tags" validate:"max=20,dive,max=50"`
}

func (n *noteRequest) normalize() {
	n.Title = strings.TrimSpace(n.Title)
	n.Content = strings.TrimSpace(n.Content)
	n.Tags = store.NormalizeTags(n.Tags)
}

func (n *noteRequest) input() store.NoteInput {
	return store.NoteInput{Title: n.Title, Content: n.Content, Tags: n.Tags}
}

type noteResponse struct {
	Note *model.Note `json:"note"`
}

type notesResponse struct {
	Notes []model.Note `json:"notes"`
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	notes, err := h.notes.List(r.Context(), auth.UserID(r.Context()), store.NoteFilter{
		Query: q.Get("q"),
		Tag:   q.Get("tag"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, notesResponse{Notes: notes})
}

func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// Writes finish even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	note, err := h.notes.Create(ctx, ownerID, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.publish(ownerID, "created", note.ID)
	httpx.JSON(w, http.StatusCreated, noteResponse{Note: note})
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	note, err := h.notes.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, noteResponse{Note: note})
}

func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req noteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	note, err := h.notes.Update(ctx, ownerID, id, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.publish(ownerID, "updated", note.ID)
	httpx.JSON(w, http.StatusOK, noteResponse{Note: note})
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	if err := h.notes.Delete(ctx, ownerID, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.publish(ownerID, "deleted", id)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
