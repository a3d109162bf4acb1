// internal/adapters/out/mail/sendgrid_wire.go
package mail

import (
	"log"
	"strings"
)

// NewDivergenceMailerWithSendGrid returns nil when the mail settings are
// incomplete; callers treat a nil notifier as "alerts disabled".
func NewDivergenceMailerWithSendGrid(apiKey, fromAddr, toAddr string) *DivergenceMailer {
	apiKey = strings.TrimSpace(apiKey)
	fromAddr = strings.TrimSpace(fromAddr)
	toAddr = strings.TrimSpace(toAddr)

	if apiKey == "" || fromAddr == "" || toAddr == "" {
		log.Printf("[mail] divergence alerts disabled (SENDGRID_API_KEY / ALERT_MAIL_FROM / ALERT_MAIL_TO not all set)")
		return nil
	}

	mailer := NewDivergenceMailer(NewSendGridClient(apiKey), fromAddr, toAddr)
	log.Printf("[mail] DivergenceMailerWithSendGrid initialized. from=%s to=%s", fromAddr, toAddr)
	return mailer
}
