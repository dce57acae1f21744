package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/smartnotes/internal/auth"
	"github.com/dukerupert/smartnotes/internal/httpx"
	"github.com/dukerupert/smartnotes/internal/middleware"
	"github.com/dukerupert/smartnotes/internal/model"
	"github.com/dukerupert/smartnotes/internal/store"
	"github.com/dukerupert/smartnotes/internal/token"
)

type AuthHandler struct {
	users        *store.UserStore
	codec        *token.Codec
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(users *store.UserStore, codec *token.Codec, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, codec: codec, secureCookie: secureCookie, logger: logger}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"max=100"`
}

func (s *signupRequest) normalize() {
	s.Email = strings.TrimSpace(s.Email)
	s.Name = strings.TrimSpace(s.Name)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

func (l *loginRequest) normalize() {
	l.Email = strings.TrimSpace(l.Email)
}

type userResponse struct {
	User *model.User `json:"user"`
}

type meResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Email         string `json:"email,omitempty"`
}

// register creates the account and starts a session for it.
func (h *AuthHandler) register(ctx context.Context, w http.ResponseWriter, req signupRequest) (*model.User, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := h.users.Create(ctx, req.Email, hash, req.Name)
	if err != nil {
		return nil, err
	}
	if err := h.startSession(w, user); err != nil {
		return nil, err
	}
	h.logger.Info("user signed up", "user_id", user.ID)
	return user, nil
}

// authenticate checks credentials and starts a session. Unknown email and
// wrong password are indistinguishable to the caller.
func (h *AuthHandler) authenticate(ctx context.Context, w http.ResponseWriter, req loginRequest) (*model.User, error) {
	user, err := h.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		auth.CheckPasswordUnknown(req.Password)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		return nil, errInvalidCredentials
	}
	if err := h.startSession(w, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *model.User) error {
	raw, err := h.codec.Issue(user.ID, user.Email)
	if err != nil {
		return err
	}
	middleware.SetSessionCookie(w, raw, h.codec.TTL(), h.secureCookie)
	return nil
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.register(context.WithoutCancel(r.Context()), w, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userResponse{User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.authenticate(r.Context(), w, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{User: user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, h.secureCookie)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me reports the identity the session gate resolved, if any.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.JSON(w, http.StatusOK, meResponse{Authenticated: false})
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{Authenticated: true, UserID: id.UserID, Email: id.Email})
}
