package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath-solar/lead-funnel/internal/cache"
	"github.com/brightpath-solar/lead-funnel/internal/model"
	"github.com/brightpath-solar/lead-funnel/internal/notify"
	"github.com/brightpath-solar/lead-funnel/internal/session"
	"github.com/brightpath-solar/lead-funnel/internal/store"
	"github.com/brightpath-solar/lead-funnel/pkg/logger"
)

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, model.Tier, *model.Event) error { return nil }

func newTestRouter(t *testing.T) (chi.Router, *session.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	router := notify.NewRouter(nopMessenger{}, cache.NewMemory(context.Background(), 0), time.Millisecond, logger.NewNop())
	svc := session.NewService(st, router, nil, logger.NewNop())
	h := NewSessionHandler(svc, logger.NewNop())

	r := chi.NewRouter()
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Post("/resume", h.Resume)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Post("/advance", h.Advance)
			r.Post("/complete", h.Complete)
			r.Post("/turns", h.AppendTurn)
		})
	})
	return r, svc, st
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{"kind":"wizard"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.StatusActive, created.Status)
	assert.NotEmpty(t, created.ResumeToken)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionHandler_Create_UnknownKind(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{"kind":"kiosk"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "kind")
}

func TestSessionHandler_Get_NotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/018e5a2b-1111-7000-8000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_Get_MalformedID(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionHandler_Update_MergesPartialData(t *testing.T) {
	r, svc, _ := newTestRouter(t)
	sess, err := svc.Create(context.Background(), &model.CreateSessionRequest{})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPatch, "/api/v1/sessions/"+sess.ID,
		`{"data":{"contact":{"email":"a@example.com"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPatch, "/api/v1/sessions/"+sess.ID,
		`{"data":{"address":{"street":"1 Main St","zip":"94105"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "a@example.com", *updated.CollectedData.Contact.Email)
	assert.Equal(t, "1 Main St", *updated.CollectedData.Address.Street)
}

func TestSessionHandler_Advance_ValidationNamesField(t *testing.T) {
	r, svc, _ := newTestRouter(t)
	sess, err := svc.Create(context.Background(), &model.CreateSessionRequest{})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/advance", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "contact.email")
}

func TestSessionHandler_Advance_ChunkedBodyDecoded(t *testing.T) {
	r, svc, _ := newTestRouter(t)
	sess, err := svc.Create(context.Background(), &model.CreateSessionRequest{})
	require.NoError(t, err)

	// A chunked request carries no Content-Length; the data payload must
	// still be decoded and merged before the advance check.
	body := struct{ io.Reader }{strings.NewReader(`{"data":{"contact":{"email":"a@example.com"}}}`)}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/advance", body)
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, int64(-1), req.ContentLength)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var advanced model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &advanced))
	assert.Equal(t, sess.Phase+1, advanced.Phase)
	assert.Equal(t, "a@example.com", *advanced.CollectedData.Contact.Email)
}

func TestSessionHandler_Resume(t *testing.T) {
	r, svc, st := newTestRouter(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, &model.CreateSessionRequest{})
	require.NoError(t, err)

	paused := model.StatusPaused
	_, err = st.UpdateSession(ctx, sess.ID, &store.UpdateSession{Status: &paused})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/resume",
		`{"token":"`+sess.ResumeToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resumed))
	assert.Equal(t, model.StatusActive, resumed.Status)
}

func TestSessionHandler_Resume_MalformedTokenIndistinguishable(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Malformed and unknown tokens both 404.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/resume", `{"token":"zzz"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	unknown := strings.Repeat("ab", 32)
	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/resume", `{"token":"`+unknown+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_AppendTurn_ContentValidated(t *testing.T) {
	r, svc, _ := newTestRouter(t)
	sess, err := svc.Create(context.Background(), &model.CreateSessionRequest{Kind: model.KindAssistant})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/turns", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/turns", `{"content":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminHandler_ListSessions_StripsResumeTokens(t *testing.T) {
	st := store.NewMemoryStore()
	router := notify.NewRouter(nopMessenger{}, cache.NewMemory(context.Background(), 0), time.Millisecond, logger.NewNop())
	svc := session.NewService(st, router, nil, logger.NewNop())
	_, err := svc.Create(context.Background(), &model.CreateSessionRequest{})
	require.NoError(t, err)

	h := NewAdminHandler(svc, st, logger.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/admin/sessions", h.ListSessions)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/admin/sessions?status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Empty(t, resp.Sessions[0].ResumeToken)
}
