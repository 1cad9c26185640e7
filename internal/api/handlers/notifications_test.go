package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
	"github.com/notifyhub/platform/internal/notifications"
	apimiddleware "github.com/notifyhub/platform/internal/api/middleware"
	"github.com/notifyhub/platform/internal/users"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []broker.PublishOptions
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, opts broker.PublishOptions) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, opts)
	return nil
}

func setupNotificationsHandler(t *testing.T) (*NotificationsHandler, *fakeUserRepo, *fakePublisher, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := cache.NewRedisCache(&cache.CacheConfig{Addr: mr.Addr(), PoolSize: 5, DialTimeout: time.Second}, nil)
	require.NoError(t, err)

	repo := newFakeUserRepo()
	idempotency := notifications.NewIdempotencyStore(c)
	status := notifications.NewStatusStore(c)
	pub := &fakePublisher{}

	h := NewNotificationsHandler(repo, idempotency, status, pub, "notifications", "email.queue", "push.queue", nil)
	return h, repo, pub, mr
}

func authenticatedRequest(req *http.Request, userID string) *http.Request {
	ctx := context.WithValue(req.Context(), apimiddleware.UserContextKey, &apimiddleware.User{ID: userID, Username: "a@example.com"})
	return req.WithContext(ctx)
}

func TestNotificationsHandler_SendSucceeds(t *testing.T) {
	h, repo, pub, mr := setupNotificationsHandler(t)
	defer mr.Close()
	repo.add(&users.User{ID: "user-1", Email: "a@example.com", PushToken: "token-1"})

	body, _ := json.Marshal(map[string]interface{}{
		"notification_type": "email",
		"template_code":     "welcome",
		"request_id":        "11111111-1111-1111-1111-111111111111",
	})
	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "idem-key-1")
	req = authenticatedRequest(req, "user-1")
	rec := httptest.NewRecorder()

	h.Send(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.published, 1)
	assert.Equal(t, "email.queue", pub.published[0].RoutingKey)
}

func TestNotificationsHandler_SendRequiresAuthenticatedUser(t *testing.T) {
	h, _, _, mr := setupNotificationsHandler(t)
	defer mr.Close()

	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()

	h.Send(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotificationsHandler_SendRequiresIdempotencyKey(t *testing.T) {
	h, _, _, mr := setupNotificationsHandler(t)
	defer mr.Close()

	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader([]byte("{}")))
	req = authenticatedRequest(req, "user-1")
	rec := httptest.NewRecorder()

	h.Send(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsHandler_SendRejectsDuplicateIdempotencyKey(t *testing.T) {
	h, repo, pub, mr := setupNotificationsHandler(t)
	defer mr.Close()
	repo.add(&users.User{ID: "user-1", Email: "a@example.com"})

	body, _ := json.Marshal(map[string]interface{}{
		"notification_type": "email",
		"template_code":     "welcome",
		"request_id":        "11111111-1111-1111-1111-111111111111",
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
		req.Header.Set(IdempotencyKeyHeader, "idem-key-dup")
		req = authenticatedRequest(req, "user-1")
		rec := httptest.NewRecorder()
		h.Send(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)

	second := send()
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Len(t, pub.published, 1)
}

func TestNotificationsHandler_SendRejectsUnsupportedType(t *testing.T) {
	h, repo, _, mr := setupNotificationsHandler(t)
	defer mr.Close()
	repo.add(&users.User{ID: "user-1", Email: "a@example.com"})

	body, _ := json.Marshal(map[string]interface{}{
		"notification_type": "sms",
		"template_code":     "welcome",
		"request_id":        "11111111-1111-1111-1111-111111111111",
	})
	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "idem-key-2")
	req = authenticatedRequest(req, "user-1")
	rec := httptest.NewRecorder()

	h.Send(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsHandler_SendMarksFailedOnPublishError(t *testing.T) {
	h, repo, pub, mr := setupNotificationsHandler(t)
	defer mr.Close()
	repo.add(&users.User{ID: "user-1", Email: "a@example.com"})
	pub.err = assert.AnError

	body, _ := json.Marshal(map[string]interface{}{
		"notification_type": "email",
		"template_code":     "welcome",
		"request_id":        "11111111-1111-1111-1111-111111111111",
	})
	req := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "idem-key-3")
	req = authenticatedRequest(req, "user-1")
	rec := httptest.NewRecorder()

	h.Send(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNotificationsHandler_StatusReturnsRecord(t *testing.T) {
	h, repo, _, mr := setupNotificationsHandler(t)
	defer mr.Close()
	repo.add(&users.User{ID: "user-1", Email: "a@example.com"})

	body, _ := json.Marshal(map[string]interface{}{
		"notification_type": "email",
		"template_code":     "welcome",
		"request_id":        "22222222-2222-2222-2222-222222222222",
	})
	sendReq := httptest.NewRequest(http.MethodPost, "/notifications/send", bytes.NewReader(body))
	sendReq.Header.Set(IdempotencyKeyHeader, "idem-key-4")
	sendReq = authenticatedRequest(sendReq, "user-1")
	h.Send(httptest.NewRecorder(), sendReq)

	req := httptest.NewRequest(http.MethodGet, "/notifications/status/22222222-2222-2222-2222-222222222222", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "22222222-2222-2222-2222-222222222222"})
	rec := httptest.NewRecorder()

	h.Status(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "a@example.com", data["recipient"])
}

func TestNotificationsHandler_StatusReturns404ForUnknownID(t *testing.T) {
	h, _, _, mr := setupNotificationsHandler(t)
	defer mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/notifications/status/does-not-exist", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "does-not-exist"})
	rec := httptest.NewRecorder()

	h.Status(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
