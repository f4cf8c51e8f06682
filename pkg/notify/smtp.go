package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"streamscraper/pkg/config"
	"streamscraper/pkg/errors"
)

// SMTP security modes
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// SMTPTransport submits messages to a mail server
type SMTPTransport struct {
	Host     string
	Port     int
	Security string
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
	// TLSConfig overrides the default client TLS configuration
	TLSConfig *tls.Config
}

// NewSMTPTransport builds a transport from the smtp configuration section
func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "smtp host is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "smtp from and to addresses are required")
	}
	security := strings.ToLower(cfg.Security)
	switch security {
	case "":
		security = SecurityTLS
	case SecurityTLS, SecurityStartTLS, SecurityNone:
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unknown smtp security %q", cfg.Security))
	}

	return &SMTPTransport{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Security: security,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		To:       append([]string(nil), cfg.To...),
		Timeout:  cfg.Timeout,
	}, nil
}

// Name returns "smtp"
func (s *SMTPTransport) Name() string { return "smtp" }

// Send delivers msg to every recipient in a single transaction
func (s *SMTPTransport) Send(ctx context.Context, msg Message) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeNotifier, "failed to connect to mail server", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return errors.Wrap(errors.ErrorTypeNotifier, "mail server greeting failed", err)
	}
	defer client.Close()

	if s.Security == SecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errors.New(errors.ErrorTypeNotifier, "mail server does not support STARTTLS")
		}
		if err := client.StartTLS(s.tlsConfig()); err != nil {
			return errors.Wrap(errors.ErrorTypeNotifier, "STARTTLS failed", err)
		}
	}

	if s.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New(errors.ErrorTypeNotifier, "mail server does not support AUTH")
		}
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		if err := client.Auth(auth); err != nil {
			return errors.Wrap(errors.ErrorTypeAuth, "mail server rejected credentials", err)
		}
	}

	if err := client.Mail(s.From); err != nil {
		return errors.Wrap(errors.ErrorTypeNotifier, "MAIL FROM rejected", err)
	}
	for _, rcpt := range s.To {
		if err := client.Rcpt(rcpt); err != nil {
			return errors.Wrap(errors.ErrorTypeNotifier, fmt.Sprintf("RCPT TO %s rejected", rcpt), err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return errors.Wrap(errors.ErrorTypeNotifier, "DATA rejected", err)
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		w.Close()
		return errors.Wrap(errors.ErrorTypeNotifier, "failed to write message", err)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(errors.ErrorTypeNotifier, "message not accepted", err)
	}

	// The message is queued once DATA completes.
	_ = client.Quit()
	return nil
}

func (s *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	netDialer := &net.Dialer{Timeout: s.Timeout}

	if s.Security == SecurityTLS {
		dialer := &tls.Dialer{NetDialer: netDialer, Config: s.tlsConfig()}
		return dialer.DialContext(ctx, "tcp", addr)
	}
	return netDialer.DialContext(ctx, "tcp", addr)
}

func (s *SMTPTransport) tlsConfig() *tls.Config {
	if s.TLSConfig != nil {
		return s.TLSConfig
	}
	return &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
}

// compose renders an RFC 5322 message with CRLF line endings
func (s *SMTPTransport) compose(msg Message) []byte {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", s.From)
	header("To", strings.Join(s.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", sentAt.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	for _, line := range strings.Split(body, "\n") {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}
