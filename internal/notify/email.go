package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mkellner/leakwatch/internal/database"
)

// Email sends the completion notice over SMTP with optional plain auth.
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string

	// send is swapped out by tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(host string, port int, username, password, from, to string) *Email {
	return &Email{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		To:       to,
		send:     smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Configured() bool {
	return e.Host != "" && e.From != "" && e.To != ""
}

func (e *Email) Notify(scan *database.Scan, findings []database.Finding) error {
	subject := fmt.Sprintf("LeakWatch: scan #%d finished with %d new findings", scan.ID, scan.NewFindings)

	var body strings.Builder
	body.WriteString(summarize(scan, findings))
	body.WriteString("\n\nNew findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&body, "- [%s] %s / %s in %s:%d\n",
			f.Severity, f.Scanner, f.Detector, f.FilePath, f.LineNumber)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.From, e.To, subject, body.String())

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	if err := e.send(addr, auth, e.From, strings.Split(e.To, ","), []byte(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}
