package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/parishops/mailqueue/internal/domain"
)

func trackedMessage(metadata map[string]string) *domain.QueuedMessage {
	return &domain.QueuedMessage{
		ID:       "5f4c7f9e-0000-0000-0000-000000000001",
		To:       "member@example.org",
		Subject:  "Sunday service reminder",
		HTMLBody: "<p>See you at 10am.</p>",
		Category: domain.CategoryEvents,
		Metadata: metadata,
	}
}

func TestBuildMessage_InjectsOpenPixel(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{
		Host:            "smtp.example.org",
		TrackingBaseURL: "https://mail.church.org/",
	})

	m := trackedMessage(map[string]string{"track_opens": "true"})
	body := string(tr.buildMessage(m, "no-reply@church.org", "mid-1"))

	want := `<img src="https://mail.church.org/track?id=` + m.ID + `&event=open"`
	if !strings.Contains(body, want) {
		t.Fatalf("expected tracking pixel in body, got:\n%s", body)
	}
	if !strings.Contains(body, "<p>See you at 10am.</p>") {
		t.Fatal("expected original HTML preserved")
	}
}

func TestBuildMessage_NoPixelWithoutOptIn(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{
		Host:            "smtp.example.org",
		TrackingBaseURL: "https://mail.church.org",
	})

	for name, metadata := range map[string]map[string]string{
		"no metadata":     nil,
		"opt-in absent":   {"campaign": "weekly"},
		"opt-in not true": {"track_opens": "false"},
	} {
		t.Run(name, func(t *testing.T) {
			body := string(tr.buildMessage(trackedMessage(metadata), "no-reply@church.org", "mid-1"))
			if strings.Contains(body, "event=open") {
				t.Fatalf("unexpected tracking pixel:\n%s", body)
			}
		})
	}
}

func TestBuildMessage_NoPixelWithoutBaseURL(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "smtp.example.org"})

	body := string(tr.buildMessage(trackedMessage(map[string]string{"track_opens": "true"}), "no-reply@church.org", "mid-1"))
	if strings.Contains(body, "event=open") {
		t.Fatalf("pixel injected with no public URL configured:\n%s", body)
	}
}

func TestSendDeadline(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "smtp.example.org", Timeout: 30 * time.Second})

	t.Run("context deadline wins", func(t *testing.T) {
		want := time.Now().Add(5 * time.Second)
		ctx, cancel := context.WithDeadline(context.Background(), want)
		defer cancel()

		got, ok := tr.sendDeadline(ctx)
		if !ok || !got.Equal(want) {
			t.Fatalf("expected ctx deadline %v, got %v (ok=%v)", want, got, ok)
		}
	})

	t.Run("configured timeout as fallback", func(t *testing.T) {
		before := time.Now()
		got, ok := tr.sendDeadline(context.Background())
		if !ok {
			t.Fatal("expected fallback deadline from configured timeout")
		}
		if d := got.Sub(before); d < 29*time.Second || d > 31*time.Second {
			t.Fatalf("fallback deadline %v not near the 30s timeout", d)
		}
	})

	t.Run("unbounded when neither is set", func(t *testing.T) {
		bare := NewSMTPTransport(SMTPConfig{Host: "smtp.example.org"})
		if _, ok := bare.sendDeadline(context.Background()); ok {
			t.Fatal("expected no deadline without ctx deadline or timeout")
		}
	})
}
