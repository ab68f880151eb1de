package channels

import (
	"context"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"
)

// EmailChannel delivers notifications over SMTP.
type EmailChannel struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailChannel(host string, port int, username, password, from string) *EmailChannel {
	return &EmailChannel{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (c *EmailChannel) Type() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if c == nil || c.dialer == nil {
		return fmt.Errorf("email channel is not initialized")
	}

	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return Permanent(fmt.Errorf("recipient %q is not a valid email address", msg.Recipient))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if err := c.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
