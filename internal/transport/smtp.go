package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
)

// SMTPConfig holds submission server settings shared by all accounts.
// Credentials come from the selected account, not from here.
type SMTPConfig struct {
	Host     string
	Port     int
	FromName string
	// Timeout bounds a send when the caller supplies no context deadline.
	Timeout time.Duration
	// TrackingBaseURL is the public base of this service's tracking endpoint,
	// e.g. "https://mail.example.org". Empty disables pixel injection.
	TrackingBaseURL string
}

// SMTPTransport submits mail over authenticated SMTP with STARTTLS.
// One connection per send; the queue's throughput is bounded by the batch
// worker, not by connection reuse.
type SMTPTransport struct {
	cfg SMTPConfig
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// Send dials the submission server, authenticates as the selected account,
// and transmits the message. The ctx deadline bounds the whole exchange via
// the dial deadline on the underlying connection.
func (t *SMTPTransport) Send(ctx context.Context, m *domain.QueuedMessage, acct *account.SendingAccount) (*DeliveryResult, error) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := t.sendDeadline(ctx); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	auth := smtp.PlainAuth("", acct.Address, acct.Password, t.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return nil, fmt.Errorf("smtp auth: %w", err)
	}

	from := acct.Address
	if m.From != nil && *m.From != "" {
		from = *m.From
	}

	if err := client.Mail(from); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(m.To); err != nil {
		return nil, fmt.Errorf("rcpt to: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return nil, fmt.Errorf("smtp data: %w", err)
	}

	msgID := uuid.New().String()
	if _, err := wc.Write(t.buildMessage(m, from, msgID)); err != nil {
		wc.Close()
		return nil, fmt.Errorf("write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("finish message: %w", err)
	}

	_ = client.Quit()
	return &DeliveryResult{ProviderMsgID: msgID}, nil
}

// sendDeadline picks the context deadline when present, falling back to the
// configured timeout so a send without a caller deadline still cannot hang.
func (t *SMTPTransport) sendDeadline(ctx context.Context) (time.Time, bool) {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline, true
	}
	if t.cfg.Timeout > 0 {
		return time.Now().Add(t.cfg.Timeout), true
	}
	return time.Time{}, false
}

// buildMessage assembles the RFC 5322 payload. Metadata entries become
// X-Queue-* headers so downstream tooling can correlate campaigns. Messages
// enqueued with metadata track_opens=true get the open-tracking pixel
// appended to the HTML body.
func (t *SMTPTransport) buildMessage(m *domain.QueuedMessage, from, msgID string) []byte {
	var b strings.Builder

	fromHeader := from
	if t.cfg.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", t.cfg.FromName), from)
	}

	fmt.Fprintf(&b, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", msgID, t.cfg.Host)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	for k, v := range m.Metadata {
		fmt.Fprintf(&b, "X-Queue-%s: %s\r\n", sanitizeHeaderToken(k), sanitizeHeaderValue(v))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(t.injectTracking(m))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// injectTracking appends the 1x1 open-tracking pixel when the message opted
// in and a public tracking URL is configured.
func (t *SMTPTransport) injectTracking(m *domain.QueuedMessage) string {
	if t.cfg.TrackingBaseURL == "" || m.Metadata["track_opens"] != "true" {
		return m.HTMLBody
	}
	base := strings.TrimRight(t.cfg.TrackingBaseURL, "/")
	return m.HTMLBody + fmt.Sprintf(
		`<img src="%s/track?id=%s&event=open" width="1" height="1" alt="" />`,
		base, m.ID,
	)
}

func sanitizeHeaderToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

func sanitizeHeaderValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// compile-time check that SMTPTransport implements Transport
var _ Transport = (*SMTPTransport)(nil)
