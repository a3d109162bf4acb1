// internal/adapters/out/mail/divergence_mailer.go
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	cartdom "whatsdish/internal/domain/cart"
)

// EmailClient abstracts the actual sender (SendGrid, SMTP, ...).
type EmailClient interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// DivergenceMailer implements cart.DivergenceNotifier by mailing the
// operator list whenever a local cart had to be reset to the remote order.
type DivergenceMailer struct {
	client      EmailClient
	fromAddress string
	toAddress   string
}

func NewDivergenceMailer(client EmailClient, fromAddress, toAddress string) *DivergenceMailer {
	return &DivergenceMailer{
		client:      client,
		fromAddress: strings.TrimSpace(fromAddress),
		toAddress:   strings.TrimSpace(toAddress),
	}
}

func (m *DivergenceMailer) NotifyDivergence(ctx context.Context, sessionID, restaurantID string, failed []cartdom.OutboxEntry) error {
	if m == nil || m.client == nil {
		return errors.New("divergence_mailer: client is nil")
	}
	if len(failed) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[whatsdish] cart reconciled restaurant=%s ops=%d", strings.TrimSpace(restaurantID), len(failed))
	return m.client.Send(ctx, m.fromAddress, m.toAddress, subject, divergenceBody(sessionID, restaurantID, failed))
}

func divergenceBody(sessionID, restaurantID string, failed []cartdom.OutboxEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session:    %s\n", strings.TrimSpace(sessionID))
	fmt.Fprintf(&b, "restaurant: %s\n", strings.TrimSpace(restaurantID))
	fmt.Fprintf(&b, "\nThe local cart was replaced by the order snapshot after these deltas failed:\n\n")
	for _, e := range failed {
		fmt.Fprintf(&b, "- #%d %s %s x%d item=%s attempts=%d error=%s\n",
			e.Seq, e.OperationID, e.Mode, e.Count, e.ItemID, e.Attempts, strings.TrimSpace(e.LastError))
	}
	return b.String()
}
