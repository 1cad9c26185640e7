package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/notifyhub/platform/internal/api/errors"
	"github.com/notifyhub/platform/internal/api/middleware"
	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/notifications"
	"github.com/notifyhub/platform/internal/users"
)

// IdempotencyKeyHeader is the header carrying the client-supplied dedupe key.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// sendRequest is the validated body of POST /notifications/send.
type sendRequest struct {
	NotificationType string            `json:"notification_type" validate:"required,oneof=email push"`
	TemplateCode     string            `json:"template_code" validate:"required"`
	Variables        map[string]string `json:"variables"`
	RequestID        string            `json:"request_id" validate:"required,uuid"`
	Priority         int               `json:"priority"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// dispatchEnvelope is the message body published to the target queue.
type dispatchEnvelope struct {
	NotificationID  string                 `json:"notification_id"`
	IdempotencyKey  string                 `json:"idempotency_key"`
	UserID          string                 `json:"user_id"`
	PushToken       string                 `json:"push_token,omitempty"`
	Email           string                 `json:"email,omitempty"`
	CreatedBy       string                 `json:"created_by"`
	Timestamp       time.Time              `json:"timestamp"`
	NotificationType string                `json:"notification_type"`
	TemplateCode    string                 `json:"template_code"`
	Variables       map[string]string      `json:"variables"`
	Priority        int                    `json:"priority"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NotificationsHandler implements the gateway dispatcher (C6): idempotent
// routing of an inbound send request onto the broker, and status lookups.
type NotificationsHandler struct {
	users       users.Repository
	idempotency *notifications.IdempotencyStore
	status      *notifications.StatusStore
	publisher   broker.Publisher
	exchange    string
	emailQueue  string
	pushQueue   string
	logger      *slog.Logger
}

// NewNotificationsHandler wires the dispatcher's collaborators.
func NewNotificationsHandler(
	userRepo users.Repository,
	idempotency *notifications.IdempotencyStore,
	status *notifications.StatusStore,
	publisher broker.Publisher,
	exchange, emailQueue, pushQueue string,
	logger *slog.Logger,
) *NotificationsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationsHandler{
		users: userRepo, idempotency: idempotency, status: status, publisher: publisher,
		exchange: exchange, emailQueue: emailQueue, pushQueue: pushQueue, logger: logger,
	}
}

// Send handles POST /notifications/send.
func (h *NotificationsHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		errors.WriteError(w, errors.Unauthorized("missing authenticated user"))
		return
	}

	idempotencyKey := r.Header.Get(IdempotencyKeyHeader)
	if idempotencyKey == "" {
		errors.WriteError(w, errors.Validation("X-Idempotency-Key header is required"))
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}
	if err := middleware.ValidateStruct(req); err != nil {
		errors.WriteError(w, errors.Validation(err.Error()))
		return
	}

	queue, err := h.queueFor(req.NotificationType)
	if err != nil {
		errors.WriteError(w, errors.Validation(err.Error()))
		return
	}

	ctx := r.Context()

	// Step 1: atomically reserve the idempotency key.
	reserved, _, err := h.idempotency.Reserve(ctx, idempotencyKey)
	if err != nil {
		h.logger.Error("idempotency reservation failed", "error", err, "key", idempotencyKey)
		errors.WriteError(w, errors.Internal("failed to process request"))
		return
	}
	if !reserved {
		errors.WriteError(w, errors.Conflict("duplicate request"))
		return
	}

	account, err := h.users.GetByID(ctx, user.ID)
	if err != nil {
		errors.WriteError(w, errors.Internal("failed to resolve recipient"))
		return
	}
	recipient := account.Email
	if req.NotificationType == "push" {
		recipient = account.PushToken
	}

	// Step 2: persist the pending status record, with the derived recipient,
	// before any further work, so a failure below always has a record to
	// transition to "failed".
	if err := h.status.Put(ctx, &notifications.Record{
		NotificationID: req.RequestID,
		Type:           req.NotificationType,
		UserID:         user.ID,
		Recipient:      recipient,
		TemplateCode:   req.TemplateCode,
		Status:         notifications.StatusPending,
		CreatedAt:      time.Now(),
	}); err != nil {
		h.logger.Warn("failed to persist initial status record", "error", err, "request_id", req.RequestID)
	}

	envelope := dispatchEnvelope{
		NotificationID:   req.RequestID,
		IdempotencyKey:   idempotencyKey,
		UserID:           account.ID,
		PushToken:        account.PushToken,
		Email:            account.Email,
		CreatedBy:        user.ID,
		Timestamp:        time.Now(),
		NotificationType: req.NotificationType,
		TemplateCode:     req.TemplateCode,
		Variables:        req.Variables,
		Priority:         req.Priority,
		Metadata:         req.Metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		h.markFailed(ctx, req.RequestID, req.NotificationType, req.TemplateCode)
		errors.WriteError(w, errors.Internal("failed to encode notification"))
		return
	}

	// Step 4: publish to the target queue as a persistent message. On any
	// failure here the idempotency key is intentionally NOT released so a
	// retried request cannot cause a double-publish.
	if err := h.publisher.Publish(ctx, broker.PublishOptions{
		Exchange:   h.exchange,
		RoutingKey: queue,
		Body:       body,
		Persistent: true,
	}); err != nil {
		h.logger.Error("failed to publish notification", "error", err, "request_id", req.RequestID)
		h.markFailed(ctx, req.RequestID, req.NotificationType, req.TemplateCode)
		errors.WriteError(w, errors.Internal("failed to enqueue notification"))
		return
	}

	if err := h.status.UpdateStatus(ctx, req.RequestID, notifications.StatusQueued); err != nil {
		h.logger.Warn("failed to mark notification queued", "error", err, "request_id", req.RequestID)
	}

	errors.WriteSuccess(w, map[string]interface{}{
		"notification_id": req.RequestID,
		"status":           "queued",
		"queues":           []string{queue},
	})
}

func (h *NotificationsHandler) queueFor(notificationType string) (string, error) {
	switch notificationType {
	case "email":
		return h.emailQueue, nil
	case "push":
		return h.pushQueue, nil
	default:
		return "", fmt.Errorf("unsupported notification_type %q", notificationType)
	}
}

// markFailed transitions the status record to failed after a post-reservation
// failure. The idempotency key is deliberately left in "processing" by the
// caller's reservation step; per §4.6 step 6 it is never released here.
func (h *NotificationsHandler) markFailed(ctx context.Context, requestID, notificationType, templateCode string) {
	if err := h.status.UpdateStatus(ctx, requestID, notifications.StatusFailed); err != nil {
		h.logger.Warn("failed to mark notification failed", "error", err, "request_id", requestID)
	}
}

// Status handles GET /notifications/status/{id}.
func (h *NotificationsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.status.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to read notification status", "error", err, "id", id)
		errors.WriteError(w, errors.Internal("failed to read notification status"))
		return
	}
	if rec == nil {
		errors.WriteError(w, errors.NotFound("notification"))
		return
	}
	errors.WriteSuccess(w, rec)
}
