package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
)

// SendMail sends an email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendPurchaseReceipt mails a short receipt after a confirmed purchase.
// Best-effort: a failed receipt never affects the purchase itself.
func SendPurchaseReceipt(to string, itemName string, generations int64) {
	if env.GetEnv("SMTP_HOST", "") == "" {
		return
	}

	var detail string
	if generations < 0 {
		detail = "unlimited invoice generations per month"
	} else {
		detail = fmt.Sprintf("%d invoice generations", generations)
	}

	body := fmt.Sprintf(
		"<p>Thanks for your purchase!</p><p><strong>%s</strong> (%s) is now active on your InvoForge account.</p>",
		itemName, detail,
	)
	go func() {
		_ = SendMail(to, "Your InvoForge purchase", body)
	}()
}
