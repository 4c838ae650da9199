// File: internal/notify/email.go
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendant/internal/config"
)

// Email sends notifications over SMTP with STARTTLS and plain auth, the way a
// Gmail account with an app password expects.
type Email struct {
	cfg     config.EmailConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewEmail creates an SMTP notifier.
func NewEmail(cfg config.EmailConfig, timeout time.Duration, logger *zap.Logger) *Email {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Username == "" {
		cfg.Username = cfg.From
	}
	return &Email{cfg: cfg, timeout: timeout, logger: logger.Named("email")}
}

func (e *Email) Name() string { return "email" }

// Notify builds the message and delivers it in a single SMTP session.
func (e *Email) Notify(ctx context.Context, msg Message) error {
	m, err := e.buildMessage(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if e.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	if e.timeout > 0 {
		opts = append(opts, mail.WithTimeout(e.timeout))
	}

	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email via %s:%d: %w", e.cfg.Host, e.cfg.Port, err)
	}
	e.logger.Info("Notification email sent.", zap.String("to", e.cfg.To))
	return nil
}

func (e *Email) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", e.cfg.From, err)
	}
	if err := m.To(recipients(e.cfg.To)...); err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", e.cfg.To, err)
	}
	m.Subject(msg.Subject)
	if !msg.Timestamp.IsZero() {
		m.SetDateWithValue(msg.Timestamp)
	} else {
		m.SetDate()
	}
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// recipients splits a comma separated address list.
func recipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
