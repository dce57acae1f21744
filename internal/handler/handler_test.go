package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/smartnotes/internal/ai"
	"github.com/dukerupert/smartnotes/internal/database"
	"github.com/dukerupert/smartnotes/internal/middleware"
	"github.com/dukerupert/smartnotes/internal/model"
	"github.com/dukerupert/smartnotes/internal/store"
	"github.com/dukerupert/smartnotes/internal/token"
	"github.com/dukerupert/smartnotes/internal/websocket"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type published struct {
	ownerID string
	msg     websocket.Message
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakePublisher) Publish(ownerID string, msg websocket.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{ownerID: ownerID, msg: msg})
}

func (f *fakePublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return published{}
	}
	return f.sent[len(f.sent)-1]
}

type fakeAssistant struct {
	summary string
	tags    []string
	err     error
	gotMax  int
}

func (f *fakeAssistant) Summarize(ctx context.Context, text string) (string, error) {
	return f.summary, f.err
}

func (f *fakeAssistant) SuggestTags(ctx context.Context, text string, maxTags int) ([]string, error) {
	f.gotMax = maxTags
	return f.tags, f.err
}

type testEnv struct {
	t         *testing.T
	handler   http.Handler
	publisher *fakePublisher
	assistant *fakeAssistant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	codec, err := token.New([]byte("handler-test-secret-0123456789abcdef"))
	require.NoError(t, err)

	pub := &fakePublisher{}
	asst := &fakeAssistant{}
	authH := NewAuthHandler(store.NewUserStore(db), codec, false, discardLogger)
	noteH := NewNoteHandler(store.NewNoteStore(db), pub, discardLogger)
	aiH := NewAIHandler(asst, discardLogger)
	pageH, err := NewPageHandler(authH, noteH, discardLogger)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", pageH.Landing)
	mux.HandleFunc("GET /login", pageH.LoginPage)
	mux.HandleFunc("POST /login", pageH.Login)
	mux.HandleFunc("GET /signup", pageH.SignupPage)
	mux.HandleFunc("POST /signup", pageH.Signup)
	mux.HandleFunc("POST /logout", pageH.Logout)
	mux.HandleFunc("GET /dashboard", pageH.Dashboard)
	mux.HandleFunc("GET /notes/new", pageH.NewNotePage)
	mux.HandleFunc("POST /notes/new", pageH.CreateNote)
	mux.HandleFunc("GET /notes/{id}", pageH.ViewNote)
	mux.HandleFunc("POST /notes/{id}", pageH.UpdateNote)
	mux.HandleFunc("POST /notes/{id}/delete", pageH.DeleteNote)
	mux.HandleFunc("POST /api/auth/signup", authH.Signup)
	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.HandleFunc("POST /api/auth/logout", authH.Logout)
	mux.HandleFunc("GET /api/auth/me", authH.Me)
	mux.HandleFunc("GET /api/notes", noteH.List)
	mux.HandleFunc("POST /api/notes", noteH.Create)
	mux.HandleFunc("GET /api/notes/{id}", noteH.Get)
	mux.HandleFunc("PUT /api/notes/{id}", noteH.Update)
	mux.HandleFunc("DELETE /api/notes/{id}", noteH.Delete)
	mux.HandleFunc("POST /api/ai/summarize", aiH.Summarize)
	mux.HandleFunc("POST /api/ai/tags", aiH.Tags)

	return &testEnv{
		t:         t,
		handler:   middleware.SessionGate(codec, discardLogger)(mux),
		publisher: pub,
		assistant: asst,
	}
}

func (e *testEnv) do(method, path string, body any, session *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) form(path string, values url.Values, session *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", middleware.SessionCookieName)
	return nil
}

func (e *testEnv) signup(email string) *http.Cookie {
	e.t.Helper()
	rec := e.do("POST", "/api/auth/signup", map[string]string{"email": email, "password": "secret1", "name": "A"}, nil)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return sessionCookie(e.t, rec)
}

func (e *testEnv) createNote(session *http.Cookie, title, content string, tags ...string) model.Note {
	e.t.Helper()
	if tags == nil {
		tags = []string{}
	}
	rec := e.do("POST", "/api/notes", map[string]any{"title": title, "content": content, "tags": tags}, session)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp noteResponse
	require.NoError(e.t, json.NewDecoder(rec.Body).Decode(&resp))
	return *resp.Note
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestSignupThenEmptyNotes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/auth/signup", map[string]string{"email": "a@x.com", "password": "secret1", "name": "A"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	var resp struct {
		User model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a@x.com", resp.User.Email)
	assert.Equal(t, "A", resp.User.Name)
	assert.NotEmpty(t, resp.User.ID)

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)
	assert.False(t, cookie.Secure)

	rec = env.do("GET", "/api/notes", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notes":[]}`, rec.Body.String())
}

func TestSignupDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signup("a@x.com")

	rec := env.do("POST", "/api/auth/signup", map[string]string{"email": "a@x.com", "password": "another1"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already registered", decodeError(t, rec))
	assert.Empty(t, rec.Result().Cookies())

	// The original password still works.
	rec = env.do("POST", "/api/auth/login", map[string]string{"email": "a@x.com", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{"invalid json", `{"email":`, "invalid JSON"},
		{"trailing data", `{"email":"a@x.com","password":"secret1"} {}`, "invalid JSON"},
		{"missing email", map[string]string{"password": "secret1"}, "email is required"},
		{"bad email", map[string]string{"email": "nope", "password": "secret1"}, "email must be a valid email address"},
		{"short password", map[string]string{"email": "a@x.com", "password": "abc"}, "password must be at least 6 characters"},
		{"long password", map[string]string{"email": "a@x.com", "password": strings.Repeat("p", 73)}, "password must be at most 72 characters"},
		{"long name", map[string]string{"email": "a@x.com", "password": "secret1", "name": strings.Repeat("n", 101)}, "name must be at most 100 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("POST", "/api/auth/signup", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.signup("a@x.com")

	rec := env.do("POST", "/api/auth/login", map[string]string{"email": " a@x.com ", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	rec = env.do("GET", "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.True(t, me.Authenticated)
	assert.Equal(t, "a@x.com", me.Email)
	assert.NotEmpty(t, me.UserID)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.signup("a@x.com")

	wrongPassword := env.do("POST", "/api/auth/login", map[string]string{"email": "a@x.com", "password": "wrong-pass"}, nil)
	unknownEmail := env.do("POST", "/api/auth/login", map[string]string{"email": "b@x.com", "password": "secret1"}, nil)

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownEmail} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid credentials", decodeError(t, rec))
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestLogoutAndMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rec.Body.String())

	rec = env.do("POST", "/api/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestNoteCreateThenGet(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")

	created := env.createNote(session, "T", "C", "x", "y")
	assert.Equal(t, "T", created.Title)
	assert.Equal(t, "C", created.Content)
	assert.Equal(t, []string{"x", "y"}, created.Tags)

	last := env.publisher.last()
	assert.Equal(t, created.OwnerID, last.ownerID)
	assert.Equal(t, "note_created", last.msg.Type)
	assert.Equal(t, created.ID, last.msg.ID)

	rec := env.do("GET", "/api/notes/"+created.ID, nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	var got noteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, created.ID, got.Note.ID)
	assert.Equal(t, "T", got.Note.Title)
	assert.Equal(t, "C", got.Note.Content)
	assert.Equal(t, []string{"x", "y"}, got.Note.Tags)
}

func TestNoteUpdate(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")
	note := env.createNote(session, "T", "C", "x")

	rec := env.do("PUT", "/api/notes/"+note.ID, map[string]any{"title": "T2", "content": "C2", "tags": []string{"z"}}, session)
	require.Equal(t, http.StatusOK, rec.Code)
	var got noteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "T2", got.Note.Title)
	assert.Equal(t, []string{"z"}, got.Note.Tags)
	assert.True(t, got.Note.UpdatedAt.After(note.UpdatedAt))
	assert.Equal(t, "note_updated", env.publisher.last().msg.Type)
}

func TestNoteDeleteTwice(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")
	note := env.createNote(session, "T", "C")

	rec := env.do("DELETE", "/api/notes/"+note.ID, nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "note_deleted", env.publisher.last().msg.Type)

	rec = env.do("DELETE", "/api/notes/"+note.ID, nil, session)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeError(t, rec))
}

func TestNoteOfAnotherUserIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup("alice@x.com")
	bob := env.signup("bob@x.com")
	note := env.createNote(alice, "secret", "plans")

	update := map[string]any{"title": "hijack", "content": "x"}
	for _, tc := range []struct {
		method string
		body   any
	}{
		{"GET", nil},
		{"PUT", update},
		{"DELETE", nil},
	} {
		rec := env.do(tc.method, "/api/notes/"+note.ID, tc.body, bob)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method)
	}

	rec := env.do("GET", "/api/notes", nil, bob)
	assert.JSONEq(t, `{"notes":[]}`, rec.Body.String())

	rec = env.do("GET", "/api/notes/"+note.ID, nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"secret"`)
}

func TestNoteInvalidID(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")

	for _, method := range []string{"GET", "PUT", "DELETE"} {
		rec := env.do(method, "/api/notes/123", nil, session)
		assert.Equal(t, http.StatusBadRequest, rec.Code, method)
		assert.Equal(t, "invalid id", decodeError(t, rec))
	}
}

func TestNoteValidation(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")

	manyTags := make([]string, 21)
	for i := range manyTags {
		manyTags[i] = strings.Repeat("t", i+1)
	}

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{"missing title", map[string]any{"content": "c"}, "title is required"},
		{"blank title", map[string]any{"title": "   ", "content": "c"}, "title is required"},
		{"missing content", map[string]any{"title": "t"}, "content is required"},
		{"long title", map[string]any{"title": strings.Repeat("t", 201), "content": "c"}, "title must be at most 200 characters"},
		{"too many tags", map[string]any{"title": "t", "content": "c", "tags": manyTags}, "tags must have at most 20 items"},
		{"long tag", map[string]any{"title": "t", "content": "c", "tags": []string{strings.Repeat("x", 51)}}, "tags[0] must be at most 50 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do("POST", "/api/notes", tt.body, session)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
		})
	}
}

func TestNoteListOrderAndFilters(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")

	first := env.createNote(session, "Groceries", "milk and eggs", "Home")
	second := env.createNote(session, "Standup", "blockers", "work")
	third := env.createNote(session, "Retro", "what went well", "work", "team")

	// Touch the oldest note so it moves to the top.
	rec := env.do("PUT", "/api/notes/"+first.ID, map[string]any{"title": "Groceries", "content": "milk, eggs, bread", "tags": []string{"Home"}}, session)
	require.Equal(t, http.StatusOK, rec.Code)

	list := func(query string) []string {
		rec := env.do("GET", "/api/notes"+query, nil, session)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp notesResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		ids := make([]string, len(resp.Notes))
		for i, n := range resp.Notes {
			ids[i] = n.ID
		}
		return ids
	}

	assert.Equal(t, []string{first.ID, third.ID, second.ID}, list(""))
	assert.Equal(t, []string{third.ID, second.ID}, list("?tag=WORK"))
	assert.Equal(t, []string{first.ID}, list("?tag=home"))
	assert.Empty(t, list("?tag=wor"))
	assert.Equal(t, []string{first.ID, second.ID}, list("?q=bread+blockers"))
	assert.Equal(t, []string{third.ID}, list("?q=retro&tag=team"))
}

func TestNotesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/notes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec))

	rec = env.do("GET", "/api/notes", nil, &http.Cookie{Name: middleware.SessionCookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAISummarize(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")
	env.assistant.summary = "Short."

	rec := env.do("POST", "/api/ai/summarize", map[string]string{"content": "long text"}, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"Short."}`, rec.Body.String())
}

func TestAITags(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")
	env.assistant.tags = []string{"go", "web"}

	rec := env.do("POST", "/api/ai/tags", map[string]any{"content": "text", "max": 3}, session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tags":["go","web"]}`, rec.Body.String())
	assert.Equal(t, 3, env.assistant.gotMax)
}

func TestAIErrors(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup("a@x.com")

	tests := []struct {
		name       string
		err        error
		body       any
		wantStatus int
		wantMsg    string
	}{
		{"upstream", ai.ErrUpstream, map[string]string{"content": "x"}, http.StatusBadGateway, "ai service unavailable"},
		{"not configured", ai.ErrNotConfigured, map[string]string{"content": "x"}, http.StatusServiceUnavailable, "ai assistant not configured"},
		{"empty content", nil, map[string]string{"content": "  "}, http.StatusBadRequest, "content is required"},
		{"too long", nil, map[string]string{"content": strings.Repeat("a", 20001)}, http.StatusBadRequest, "content must be at most 20000 characters"},
		{"bad max", nil, map[string]any{"content": "x", "max": 50}, http.StatusBadRequest, "max must be at most 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.assistant.err = tt.err
			rec := env.do("POST", "/api/ai/tags", tt.body, session)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
		})
	}

	rec := env.do("POST", "/api/ai/summarize", map[string]string{"content": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
