package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"taskmanager/internal/config"
	"taskmanager/internal/pkg/queue"

	"gopkg.in/gomail.v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmailNotifierSkipsWithoutConfig(t *testing.T) {
	n := NewEmailNotifier(config.EmailConfig{}, testLogger())
	n.send = func(m *gomail.Message) error {
		t.Fatal("send should not be called")
		return nil
	}
	if err := n.SendWelcome(context.Background(), "a@example.com", "A"); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestEmailNotifierSubjects(t *testing.T) {
	cfg := config.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, FromEmail: "noreply@example.com"}
	n := NewEmailNotifier(cfg, testLogger())
	var got []*gomail.Message
	n.send = func(m *gomail.Message) error {
		got = append(got, m)
		return nil
	}

	ctx := context.Background()
	if err := n.SendWelcome(ctx, "a@example.com", "A"); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if err := n.SendGoodbye(ctx, "a@example.com", "A"); err != nil {
		t.Fatalf("goodbye: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sent %d messages", len(got))
	}
	if s := got[0].GetHeader("Subject"); len(s) != 1 || s[0] != welcomeSubject {
		t.Fatalf("welcome subject = %v", s)
	}
	if s := got[1].GetHeader("Subject"); len(s) != 1 || s[0] != goodbyeSubject {
		t.Fatalf("goodbye subject = %v", s)
	}
	if to := got[0].GetHeader("To"); len(to) != 1 || to[0] != "a@example.com" {
		t.Fatalf("to = %v", to)
	}

	bodies := map[int]string{
		0: "Hi A! Thanks for registering a new account.",
		1: "Hi A! This email is sent to you upon your",
	}
	for i, want := range bodies {
		var buf bytes.Buffer
		if _, err := got[i].WriteTo(&buf); err != nil {
			t.Fatalf("write message %d: %v", i, err)
		}
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("message %d body missing %q:\n%s", i, want, buf.String())
		}
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingNotifier) SendWelcome(ctx context.Context, email, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "welcome:"+email)
	return r.err
}

func (r *recordingNotifier) SendGoodbye(ctx context.Context, email, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "goodbye:"+email)
	return r.err
}

func TestAsyncDispatch(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("smtp down")}
	q := queue.New(testLogger(), 1, 10)
	q.Start(context.Background())
	a := NewAsync(rec, q, testLogger())

	a.Welcome("a@example.com", "A")
	a.Goodbye("b@example.com", "B")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if len(rec.calls) != 2 || rec.calls[0] != "welcome:a@example.com" || rec.calls[1] != "goodbye:b@example.com" {
		t.Fatalf("calls = %v", rec.calls)
	}
	if q.Stats().Failed != 2 {
		t.Fatalf("failed = %d", q.Stats().Failed)
	}

	// 队列已关闭时只记录日志，不 panic
	a.Welcome("c@example.com", "C")
}
