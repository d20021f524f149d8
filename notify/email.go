package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
	StartTLS    bool   `yaml:"starttls"`
}

// Email sends a welcome mail to newly registered accounts.
type Email struct {
	cfg  EmailConfig
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewEmail returns an SMTP notifier.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Host == "" || cfg.FromAddress == "" {
		return nil, errors.New("email notifier requires host and from address")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	return &Email{cfg: cfg, dial: func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}}, nil
}

// Notify mails the account on registration and ignores other kinds.
func (e *Email) Notify(ctx context.Context, msg Message) error {
	if msg.Kind != KindAccountRegistered || msg.Email == "" {
		return nil
	}
	subject, body := welcomeMail(msg)
	if err := e.send(ctx, msg.Email, subject, body); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func (e *Email) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))
	conn, err := e.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if e.cfg.StartTLS {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(e.cfg.FromAddress); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := wc.Write(buildMail(e.from(), to, subject, body)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finish body: %w", err)
	}
	return c.Quit()
}

func (e *Email) from() string {
	if e.cfg.FromName == "" {
		return e.cfg.FromAddress
	}
	return fmt.Sprintf("%s <%s>", e.cfg.FromName, e.cfg.FromAddress)
}

func welcomeMail(msg Message) (string, string) {
	name := msg.Name
	if name == "" {
		name = msg.Email
	}
	subject := "Welcome"
	body := fmt.Sprintf("Hello %s,\r\n\r\nYour account %s has been created.\r\n", name, msg.Email)
	if msg.SourceAddr != "" {
		body += fmt.Sprintf("The registration came from %s. If this was not you, contact support.\r\n", msg.SourceAddr)
	}
	return subject, body
}

func buildMail(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
