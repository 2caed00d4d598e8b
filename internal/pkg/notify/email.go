package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskmanager/internal/config"

	"gopkg.in/gomail.v2"
)

const (
	welcomeSubject = "Welcome to task manager"
	goodbyeSubject = "Sorry to see you go!"
)

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// SendWelcome 发送注册欢迎邮件。
func (n *EmailNotifier) SendWelcome(ctx context.Context, email, name string) error {
	body := fmt.Sprintf("Hi %s! Thanks for registering a new account. Wish you a great experience ahead", name)
	return n.deliver(ctx, email, welcomeSubject, body)
}

// SendGoodbye 发送注销告别邮件。
func (n *EmailNotifier) SendGoodbye(ctx context.Context, email, name string) error {
	body := fmt.Sprintf("Hi %s! This email is sent to you upon your account cancellation. Please spare some time to tell us why you left", name)
	return n.deliver(ctx, email, goodbyeSubject, body)
}

func (n *EmailNotifier) deliver(ctx context.Context, to, subject, body string) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification", slog.String("subject", subject))
		return nil
	}
	if strings.TrimSpace(to) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Info("email sent", slog.String("to", to), slog.String("subject", subject))
	return nil
}
