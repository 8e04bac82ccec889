package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/scheduled-messaging/internal/contact"
	"github.com/LeventeLantos/scheduled-messaging/internal/launcher"
	"github.com/LeventeLantos/scheduled-messaging/internal/notify"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) OpenURL(_ context.Context, _ string, rawURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, rawURL)
	return nil
}

func (o *recordingOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type testServer struct {
	handler  http.Handler
	opener   *recordingOpener
	repo     *repo.MemoryMessageRepo
	sessions *service.Sessions
}

func newTestServer(t *testing.T, permission bool) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := repo.NewMemoryMessageRepo()
	opener := &recordingOpener{}

	sessions := service.NewSessions(service.Deps{
		Repo:     store,
		Notifier: notify.NewTimerFactory(notify.NewLogAlerter(logger, permission), logger),
		Launcher: launcher.NewWeb("", opener),
		Logger:   logger,
	}, service.WithSweepInterval(time.Hour))
	t.Cleanup(sessions.Close)

	h := NewHandler(sessions, contact.NewDirectory(store), logger, 10)
	return &testServer{handler: Router(h), opener: opener, repo: store, sessions: sessions}
}

func (s *testServer) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) signIn(t *testing.T, owner string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/session", owner, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), "body=%q", rr.Body.String())
	return m
}

func items(t *testing.T, body map[string]any) []map[string]any {
	t.Helper()
	raw, ok := body["items"].([]any)
	require.True(t, ok, "expected items array, got %v", body)
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.(map[string]any))
	}
	return out
}

func scheduleBody(recipients string, body string, due time.Time) string {
	b, _ := json.Marshal(map[string]any{
		"recipients": json.RawMessage(recipients),
		"body":       body,
		"dueAt":      due.UTC().Format(time.RFC3339),
	})
	return string(b)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)

	rr := s.do(t, http.MethodGet, "/v1/health", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, true, decodeJSON(t, rr)["ok"])
}

func TestRouterRoot(t *testing.T) {
	s := newTestServer(t, true)

	rr := s.do(t, http.MethodGet, "/", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "scheduled-messaging", strings.TrimSpace(rr.Body.String()))
}

func TestSession_RequiredForMessageRoutes(t *testing.T) {
	s := newTestServer(t, true)

	rr := s.do(t, http.MethodGet, "/v1/messages", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/messages", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "not signed in yet")

	s.signIn(t, "alice")
	rr = s.do(t, http.MethodGet, "/v1/messages", "alice", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodDelete, "/v1/session", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["signedOut"])

	rr = s.do(t, http.MethodGet, "/v1/messages", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSession_SignInWithoutOwner(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodPost, "/v1/session", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScheduleAndList(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")
	due := time.Now().Add(time.Hour)

	rr := s.do(t, http.MethodPost, "/v1/messages", "alice",
		scheduleBody(`"+15550000001, +15550000002"`, "Hello there, this is long", due))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := items(t, decodeJSON(t, rr))
	require.Len(t, created, 2)
	assert.Equal(t, "+15550000001", created[0]["recipient"])
	assert.Equal(t, "+15550000002", created[1]["recipient"])
	assert.Equal(t, "pending", created[0]["status"])
	assert.Equal(t, "Hello ther…", created[0]["preview"])
	assert.NotEqual(t, created[0]["id"], created[1]["id"])

	rr = s.do(t, http.MethodGet, "/v1/messages?status=pending", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 2)

	rr = s.do(t, http.MethodGet, "/v1/messages?limit=1", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 1)

	rr = s.do(t, http.MethodGet, "/v1/messages?status=bogus", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Another owner sees nothing.
	s.signIn(t, "bob")
	rr = s.do(t, http.MethodGet, "/v1/messages", "bob", "")
	assert.Empty(t, items(t, decodeJSON(t, rr)))
}

func TestSchedule_AcceptsRecipientList(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")

	rr := s.do(t, http.MethodPost, "/v1/messages", "alice",
		scheduleBody(`["+1", "+2", "+3"]`, "Hi", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Len(t, items(t, decodeJSON(t, rr)), 3)
}

func TestSchedule_Rejections(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"recipients":`},
		{"missing dueAt", `{"recipients":["+1"],"body":"hi"}`},
		{"missing body", scheduleBody(`["+1"]`, "", time.Now().Add(time.Hour))},
		{"empty recipients", scheduleBody(`[]`, "hi", time.Now().Add(time.Hour))},
		{"blank recipient", scheduleBody(`["+1", " "]`, "hi", time.Now().Add(time.Hour))},
		{"past due", scheduleBody(`["+1"]`, "hi", time.Now().Add(-time.Minute))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/v1/messages", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "VALIDATION_FAILED", decodeJSON(t, rr)["code"])
		})
	}

	rr := s.do(t, http.MethodGet, "/v1/messages", "alice", "")
	assert.Empty(t, items(t, decodeJSON(t, rr)))
}

func TestSchedule_PermissionDeniedReturnsWarning(t *testing.T) {
	s := newTestServer(t, false)
	s.signIn(t, "alice")

	rr := s.do(t, http.MethodPost, "/v1/messages", "alice", scheduleBody(`["+1555"]`, "Hi", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body := decodeJSON(t, rr)
	assert.Len(t, items(t, body), 1)
	warnings, ok := body["warnings"].([]any)
	require.True(t, ok, "expected warnings, got %v", body)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "NOTIFICATION")

	rr = s.do(t, http.MethodGet, "/v1/notifications/permission", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON(t, rr)["granted"])
}

func createOne(t *testing.T, s *testServer, owner string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/v1/messages", owner, scheduleBody(`["+1 555 123 4567"]`, "Hello", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return items(t, decodeJSON(t, rr))[0]["id"].(string)
}

func TestGetEditSendCancelDelete(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")
	id := createOne(t, s, "alice")

	rr := s.do(t, http.MethodGet, "/v1/messages/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id, decodeJSON(t, rr)["id"])

	rr = s.do(t, http.MethodGet, "/v1/messages/nope", "alice", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	edit := `{"body":"Updated","dueAt":"` + time.Now().Add(2*time.Hour).UTC().Format(time.RFC3339) + `"}`
	rr = s.do(t, http.MethodPatch, "/v1/messages/"+id, "alice", edit)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	item := decodeJSON(t, rr)["item"].(map[string]any)
	assert.Equal(t, "Updated", item["body"])

	past := `{"dueAt":"` + time.Now().Add(-time.Hour).UTC().Format(time.RFC3339) + `"}`
	rr = s.do(t, http.MethodPatch, "/v1/messages/"+id, "alice", past)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/messages/"+id+"/send", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	item = decodeJSON(t, rr)["item"].(map[string]any)
	assert.Equal(t, "sent", item["status"])
	assert.NotEmpty(t, item["sentAt"])
	assert.Equal(t, []string{"https://wa.me/15551234567?text=Updated"}, s.opener.opened())

	rr = s.do(t, http.MethodPatch, "/v1/messages/"+id, "alice", edit)
	assert.Equal(t, http.StatusConflict, rr.Code, "sent items cannot be edited")

	// Cancel after sent is a no-op.
	rr = s.do(t, http.MethodPost, "/v1/messages/"+id+"/cancel", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sent", decodeJSON(t, rr)["item"].(map[string]any)["status"])

	rr = s.do(t, http.MethodGet, "/v1/messages/sent", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 1)

	rr = s.do(t, http.MethodDelete, "/v1/messages/"+id, "alice", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/messages/"+id, "alice", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelThenSendNowConflicts(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")
	id := createOne(t, s, "alice")

	rr := s.do(t, http.MethodPost, "/v1/messages/"+id+"/cancel", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", decodeJSON(t, rr)["item"].(map[string]any)["status"])

	rr = s.do(t, http.MethodPost, "/v1/messages/"+id+"/send", "alice", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Empty(t, s.opener.opened())

	rr = s.do(t, http.MethodPost, "/v1/messages/missing/cancel", "alice", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestListSentMessages_DefaultsAndArgs(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")

	for i := 0; i < 3; i++ {
		id := createOne(t, s, "alice")
		rr := s.do(t, http.MethodPost, "/v1/messages/"+id+"/send", "alice", "")
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := s.do(t, http.MethodGet, "/v1/messages/sent", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 3)

	rr = s.do(t, http.MethodGet, "/v1/messages/sent?limit=2&offset=2", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 1)

	rr = s.do(t, http.MethodGet, "/v1/messages/sent?limit=abc&offset=zzz", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, items(t, decodeJSON(t, rr)), 3, "invalid values fall back to defaults")
}

func TestContacts(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")

	rr := s.do(t, http.MethodPost, "/v1/contacts", "alice", `{"name":"Mum","phoneNumber":"+1 (555) 000-1234"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "+15550001234", decodeJSON(t, rr)["phoneNumber"])

	rr = s.do(t, http.MethodPost, "/v1/contacts", "alice", `{"name":"Bad","phoneNumber":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/v1/contacts", "alice", `{"name":"NoPhone"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/contacts/pick?q=mum", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	c := decodeJSON(t, rr)["contact"].(map[string]any)
	assert.Equal(t, "+15550001234", c["phoneNumber"])

	rr = s.do(t, http.MethodGet, "/v1/contacts/pick?q=dentist", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decodeJSON(t, rr)["contact"])
}

func TestSchedulerEndpoints(t *testing.T) {
	s := newTestServer(t, true)
	s.signIn(t, "alice")

	rr := s.do(t, http.MethodGet, "/v1/scheduler/status", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["running"], "sign in starts the sweep")

	rr = s.do(t, http.MethodPost, "/v1/scheduler/stop", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeJSON(t, rr)["running"])

	rr = s.do(t, http.MethodPost, "/v1/scheduler/start", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "1h0m0s", body["interval"])
}

func TestWithWarnings(t *testing.T) {
	body := withWarnings(map[string]any{}, nil)
	assert.NotContains(t, body, "warnings")

	body = withWarnings(map[string]any{}, assert.AnError)
	assert.Equal(t, []string{assert.AnError.Error()}, body["warnings"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor("VALIDATION_FAILED"))
	assert.Equal(t, http.StatusNotFound, statusFor("NOT_FOUND"))
	assert.Equal(t, http.StatusConflict, statusFor("INVALID_STATE"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("PERSISTENCE"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("INTERNAL_ERROR"))
}
