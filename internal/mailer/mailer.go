// Package mailer delivers rendered campaign email through an external transport.
package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Mailer is the outbound email port.
type Mailer interface {
	Send(ctx context.Context, email Email) (*SendResult, error)
}

// Email is one fully rendered message.
type Email struct {
	To        string
	Subject   string
	HTML      string
	Text      string
	FromName  string
	FromEmail string
	ReplyTo   string
	// Tags are passed to transports that support message tagging.
	Tags map[string]string
}

// SendResult is what the transport reported for an accepted message.
type SendResult struct {
	MessageID  string
	StatusCode int
}

func (e Email) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return fmt.Errorf("recipient address is required")
	}
	if strings.TrimSpace(e.FromEmail) == "" {
		return fmt.Errorf("from address is required")
	}
	if strings.TrimSpace(e.HTML) == "" && strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("html or text body is required")
	}
	return nil
}

// From formats the sender as an RFC 5322 address.
func (e Email) From() string {
	address := mail.Address{Name: strings.TrimSpace(e.FromName), Address: strings.TrimSpace(e.FromEmail)}
	return address.String()
}
