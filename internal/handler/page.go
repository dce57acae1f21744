package handler

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/smartnotes/internal/auth"
	"github.com/dukerupert/smartnotes/internal/middleware"
	"github.com/dukerupert/smartnotes/internal/model"
	"github.com/dukerupert/smartnotes/internal/store"
	"github.com/dukerupert/smartnotes/web"
)

const defaultLanding = "/dashboard"

// PageHandler serves the server-rendered HTML pages. Form logins and signups
// share credential handling with the JSON endpoints.
type PageHandler struct {
	auth      *AuthHandler
	notes     *NoteHandler
	templates *template.Template
	logger    *slog.Logger
}

func NewPageHandler(ah *AuthHandler, nh *NoteHandler, logger *slog.Logger) (*PageHandler, error) {
	tmpl, err := template.ParseFS(web.Templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &PageHandler{auth: ah, notes: nh, templates: tmpl, logger: logger}, nil
}

type noteForm struct {
	Title   string
	Content string
	Tags    string
}

type pageData struct {
	Title    string
	Identity auth.Identity
	Error    string
	Next     string
	Email    string
	Name     string
	Query    string
	Tag      string
	Notes    []model.Note
	Note     *model.Note
	Form     noteForm
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Identity, _ = auth.FromContext(r.Context())

	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("render template", "request_id", middleware.RequestID(r.Context()), "template", name, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (h *PageHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= 500 {
		h.logger.Error("page failed", "request_id", middleware.RequestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	if status == http.StatusNotFound {
		msg = "Note not found"
	}
	h.render(w, r, status, "error.html", pageData{Title: msg})
}

func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "landing.html", pageData{})
}

func (h *PageHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := middleware.SafeNext(r.URL.Query().Get("next"), defaultLanding)
	if auth.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login.html", pageData{Title: "Log in", Next: next})
}

func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req := loginRequest{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	next := middleware.SafeNext(r.PostFormValue("next"), defaultLanding)

	err := check(&req)
	if err == nil {
		_, err = h.auth.authenticate(r.Context(), w, req)
	}
	if err != nil {
		status, msg := errorStatus(err)
		if status >= 500 {
			h.logger.Error("form login", "request_id", middleware.RequestID(r.Context()), "error", err)
		}
		h.render(w, r, status, "login.html", pageData{Title: "Log in", Error: msg, Next: next, Email: req.Email})
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *PageHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	next := middleware.SafeNext(r.URL.Query().Get("next"), defaultLanding)
	if auth.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "signup.html", pageData{Title: "Sign up", Next: next})
}

func (h *PageHandler) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req := signupRequest{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Name:     r.PostFormValue("name"),
	}
	next := middleware.SafeNext(r.PostFormValue("next"), defaultLanding)

	err := check(&req)
	if err == nil {
		_, err = h.auth.register(context.WithoutCancel(r.Context()), w, req)
	}
	if err != nil {
		status, msg := errorStatus(err)
		if status >= 500 {
			h.logger.Error("form signup", "request_id", middleware.RequestID(r.Context()), "error", err)
		}
		h.render(w, r, status, "signup.html", pageData{Title: "Sign up", Error: msg, Next: next, Email: req.Email, Name: req.Name})
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (h *PageHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, h.auth.secureCookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.NoteFilter{Query: q.Get("q"), Tag: q.Get("tag")}

	notes, err := h.notes.notes.List(r.Context(), auth.UserID(r.Context()), filter)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "dashboard.html", pageData{
		Title: "Your notes",
		Query: filter.Query,
		Tag:   filter.Tag,
		Notes: notes,
	})
}

func (h *PageHandler) NewNotePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "note_new.html", pageData{Title: "New note"})
}

func (h *PageHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	form := noteForm{
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
		Tags:    r.PostFormValue("tags"),
	}
	req := noteRequest{Title: form.Title, Content: form.Content, Tags: splitTagList(form.Tags)}

	if err := check(&req); err != nil {
		_, msg := errorStatus(err)
		h.render(w, r, http.StatusBadRequest, "note_new.html", pageData{Title: "New note", Error: msg, Form: form})
		return
	}

	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	note, err := h.notes.notes.Create(ctx, ownerID, req.input())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.notes.publish(ownerID, "created", note.ID)
	http.Redirect(w, r, "/notes/"+note.ID, http.StatusSeeOther)
}

func (h *PageHandler) ViewNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		// A malformed id names no note.
		h.renderError(w, r, store.ErrNotFound)
		return
	}

	note, err := h.notes.notes.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	form := noteForm{Title: note.Title, Content: note.Content, Tags: strings.Join(note.Tags, ", ")}
	h.render(w, r, http.StatusOK, "note.html", pageData{Title: note.Title, Note: note, Form: form})
}

// UpdateNote saves the edit form on a note's page.
func (h *PageHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		h.renderError(w, r, store.ErrNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	form := noteForm{
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
		Tags:    r.PostFormValue("tags"),
	}
	req := noteRequest{Title: form.Title, Content: form.Content, Tags: splitTagList(form.Tags)}

	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	if err := check(&req); err != nil {
		note, getErr := h.notes.notes.Get(ctx, ownerID, id)
		if getErr != nil {
			h.renderError(w, r, getErr)
			return
		}
		_, msg := errorStatus(err)
		h.render(w, r, http.StatusBadRequest, "note.html", pageData{Title: note.Title, Note: note, Form: form, Error: msg})
		return
	}

	if _, err := h.notes.notes.Update(ctx, ownerID, id, req.input()); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.notes.publish(ownerID, "updated", id)
	http.Redirect(w, r, "/notes/"+id, http.StatusSeeOther)
}

func (h *PageHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		h.renderError(w, r, store.ErrNotFound)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	ownerID := auth.UserID(ctx)
	if err := h.notes.notes.Delete(ctx, ownerID, id); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.notes.publish(ownerID, "deleted", id)
	http.Redirect(w, r, defaultLanding, http.StatusSeeOther)
}
