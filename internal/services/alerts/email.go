package alerts

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

// EmailChannel delivers alerts over SMTP as multipart text+HTML messages
type EmailChannel struct {
	config *common.EmailConfig
	logger arbor.ILogger
}

// NewEmailChannel validates the SMTP configuration and returns the channel
func NewEmailChannel(logger arbor.ILogger, config *common.EmailConfig) (*EmailChannel, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	return &EmailChannel{config: config, logger: logger}, nil
}

func (c *EmailChannel) Name() string { return "email" }

// Send builds a multipart message and delivers it to every recipient address
func (c *EmailChannel) Send(alert *Alert) error {
	to := strings.Join(c.config.To, ", ")
	subject := fmt.Sprintf("[Colligo] %s", alert.Subject)

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", c.config.FromName, c.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))

	// Multipart with base64-encoded parts: RFC 5322 limits line length to
	// 998 chars and generated HTML can exceed it.
	boundary := generateBoundary()
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	if alert.Text != "" {
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(alert.Text))
		msg.WriteString("\r\n")
	}

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(encodeBase64WithLineBreaks(alert.HTMLBody))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)

	if c.config.UseTLS {
		return c.sendWithTLS(addr, auth, msg.String())
	}
	return smtp.SendMail(addr, auth, c.config.From, c.config.To, []byte(msg.String()))
}

// sendWithTLS connects over implicit TLS, falling back to STARTTLS when the
// server does not speak TLS on the configured port directly.
func (c *EmailChannel) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: c.config.Host})
	if err != nil {
		return c.sendWithSTARTTLS(addr, auth, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return c.transmit(client, auth, msg)
}

// sendWithSTARTTLS dials plain and upgrades the connection
func (c *EmailChannel) sendWithSTARTTLS(addr string, auth smtp.Auth, msg string) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: c.config.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return c.transmit(client, auth, msg)
}

func (c *EmailChannel) transmit(client *smtp.Client, auth smtp.Auth, msg string) error {
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	if err := client.Mail(c.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}

	for _, rcpt := range c.config.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set mail recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}

	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// generateBoundary creates a random MIME boundary string
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "colligo-boundary-fallback"
	}
	return fmt.Sprintf("colligo-%x", b)
}

// encodeBase64WithLineBreaks encodes content in base64 with 76-char lines
// per RFC 2045.
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	for len(encoded) > 76 {
		result.WriteString(encoded[:76])
		result.WriteString("\r\n")
		encoded = encoded[76:]
	}
	result.WriteString(encoded)

	return result.String()
}
