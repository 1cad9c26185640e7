package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notifyhub/platform/internal/config"
)

// fcmLegacyEndpoint is used when cfg.Endpoint is unset.
const fcmLegacyEndpoint = "https://fcm.googleapis.com/fcm/send"

// FCMTransport delivers rendered push templates via the FCM legacy HTTP
// API, authenticating with a server key (FCM_SERVER_KEY) rather than a
// per-project OAuth2 service account, matching the config surface's single
// FCM_SERVER_KEY option.
type FCMTransport struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
}

// NewFCMTransport wires an FCMConfig into a Transport.
func NewFCMTransport(cfg config.FCMConfig) *FCMTransport {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fcmLegacyEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FCMTransport{
		endpoint:  endpoint,
		serverKey: cfg.ServerKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Transport.
func (t *FCMTransport) Name() string { return "fcm" }

type fcmPayload struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send posts msg to the FCM send endpoint, classifying a 4xx response
// (rejected token, malformed request) as non-retryable and everything else
// — 5xx, timeouts, connection refusals — as retryable.
func (t *FCMTransport) Send(ctx context.Context, msg Message) error {
	payload := fcmPayload{
		To: msg.Recipient,
		Notification: fcmNotification{
			Title: msg.Subject,
			Body:  msg.Body["body"],
		},
		Data: msg.Body,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("marshal fcm payload: %w", err), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: fmt.Errorf("build fcm request: %w", err), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+t.serverKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("fcm request failed: %w", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	err = fmt.Errorf("fcm responded %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 500 {
		return &TransportError{Err: err, Retryable: true}
	}
	return &TransportError{Err: err, Retryable: false}
}
