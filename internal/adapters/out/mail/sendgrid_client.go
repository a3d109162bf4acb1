// internal/adapters/out/mail/sendgrid_client.go
package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// alertSenderName is the display name on every divergence alert.
const alertSenderName = "whatsdish cart alerts"

// ErrAlertRejected is returned when SendGrid answers with a 4xx/5xx.
var ErrAlertRejected = errors.New("sendgrid: alert rejected")

type sgSender interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridClient implements EmailClient for operator alerts.
type SendGridClient struct {
	sender sgSender
}

func NewSendGridClient(apiKey string) *SendGridClient {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &SendGridClient{}
	}
	return &SendGridClient{sender: sendgrid.NewSendClient(apiKey)}
}

func (c *SendGridClient) Send(ctx context.Context, from, to, subject, body string) error {
	if c == nil || c.sender == nil {
		return errors.New("sendgrid: api key is empty")
	}
	msg, err := alertMessage(from, to, subject, body)
	if err != nil {
		return err
	}

	resp, err := c.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: alert %q: %w", subject, err)
	}
	if resp.StatusCode >= 400 {
		log.Printf("[mail] alert rejected status=%d subject=%q body=%s", resp.StatusCode, subject, resp.Body)
		return fmt.Errorf("%w: status=%d", ErrAlertRejected, resp.StatusCode)
	}
	log.Printf("[mail] alert sent status=%d to=%s subject=%q", resp.StatusCode, to, subject)
	return nil
}

// alertMessage renders the plain-text alert and a <pre> copy for HTML clients.
func alertMessage(from, to, subject, body string) (*sgmail.SGMailV3, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("sendgrid: from=%q to=%q must both be set", from, to)
	}
	return sgmail.NewSingleEmail(
		sgmail.NewEmail(alertSenderName, from),
		subject,
		sgmail.NewEmail("", to),
		body,
		"<pre>"+html.EscapeString(body)+"</pre>",
	), nil
}
