package notification

import (
	"context"
	"fmt"
	"net/smtp"
)

// EmailNotifier sends alerts via SMTP using only the standard library: no
// third-party SMTP client appears anywhere in the example pack, so this
// one concern is built on net/smtp rather than an ecosystem library.
type EmailNotifier struct {
	host     string
	port     string
	from     string
	to       string
	auth     smtp.Auth
	sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an SMTP-backed notifier. host/port address the
// SMTP server, from/to are mailbox addresses, username/password are
// PLAIN-auth credentials (blank disables auth, e.g. for local relays).
func NewEmailNotifier(host, port, username, password, from, to string) *EmailNotifier {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailNotifier{
		host:     host,
		port:     port,
		from:     from,
		to:       to,
		auth:     auth,
		sendFunc: smtp.SendMail,
	}
}

func (e *EmailNotifier) Send(_ context.Context, alert Alert) error {
	to := alert.To
	if to == "" {
		to = e.to
	}
	subject := fmt.Sprintf("[%s] %s", alert.Level, alert.Title)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.from, to, subject, alert.Message)

	addr := fmt.Sprintf("%s:%s", e.host, e.port)
	if err := e.sendFunc(addr, e.auth, e.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
