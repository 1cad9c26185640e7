package worker

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/notifyhub/platform/internal/config"
)

// SMTPTransport delivers rendered email templates over SMTP with PLAIN auth.
// Connection failures and anything past the configured timeout classify as
// retryable; malformed-recipient style rejections do not reach this far
// since the gateway already validates the address at enqueue time.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPTransport wires an SMTPConfig into a Transport.
func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMTPTransport{
		host: cfg.Host, port: cfg.Port, username: cfg.Username, password: cfg.Password,
		from: cfg.From, timeout: timeout,
	}
}

// Name implements Transport.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send dials the configured relay and submits msg as a single RCPT TO
// addressed to msg.Recipient, bounding the whole exchange by t.timeout.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("smtp dial: %w", err), Retryable: true}
	}
	conn.SetDeadline(deadline)
	defer conn.Close()

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("smtp handshake: %w", err), Retryable: true}
	}
	defer client.Close()

	if t.username != "" {
		auth := smtp.PlainAuth("", t.username, t.password, t.host)
		if err := client.Auth(auth); err != nil {
			return &TransportError{Err: fmt.Errorf("smtp auth: %w", err), Retryable: false}
		}
	}

	if err := client.Mail(t.from); err != nil {
		return classifySMTPError(err)
	}
	if err := client.Rcpt(msg.Recipient); err != nil {
		return classifySMTPError(err)
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTPError(err)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		t.from, msg.Recipient, msg.Subject, msg.Body["body"])
	if _, err := w.Write([]byte(body)); err != nil {
		return &TransportError{Err: fmt.Errorf("smtp write: %w", err), Retryable: true}
	}
	if err := w.Close(); err != nil {
		return classifySMTPError(err)
	}

	return client.Quit()
}

// classifySMTPError treats 5xx SMTP reply codes as retryable (transient
// relay failure) and 4xx as terminal, mirroring the platform's general
// "5xx/timeout retryable, 4xx non-retryable" convention for transports.
func classifySMTPError(err error) error {
	msg := err.Error()
	if strings.HasPrefix(msg, "5") {
		return &TransportError{Err: err, Retryable: true}
	}
	return &TransportError{Err: err, Retryable: false}
}
