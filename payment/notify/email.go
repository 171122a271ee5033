package notify

import (
	"context"
	"errors"
	"fmt"
	"go-storefront/config"
	"go-storefront/payment/db"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("smtp is not configured")

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain-text emails through one SMTP relay.
type Mailer struct {
	cfg     config.SMTP
	webHost string
	send    sendFunc
}

func NewMailer(cfg config.SMTP, webHost string) *Mailer {
	return &Mailer{cfg: cfg, webHost: webHost, send: smtp.SendMail}
}

func (m *Mailer) Send(to, subject, body string) error {
	c := m.cfg
	if c.Server == "" || c.Port == "" || c.FromAddr == "" {
		return ErrNotConfigured
	}
	msg := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		c.FromName, c.FromAddr, to, subject, body))

	var auth smtp.Auth
	if c.User != "" {
		auth = smtp.PlainAuth("", c.User, c.Pass, c.Server)
	}
	if err := m.send(c.Server+":"+c.Port, auth, c.FromAddr, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// OrderConfirmed tells the buyer their payment was received.
func (m *Mailer) OrderConfirmed(_ context.Context, o *db.Order) error {
	if o.Email == "" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your order %s.\n\n", o.OrderNumber)
	fmt.Fprintf(&b, "We received your payment of %s %s", o.TotalAmount.String(), o.Currency)
	if o.TxHash != "" {
		fmt.Fprintf(&b, " (transaction %s)", o.TxHash)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Track your order at http://%s/orders/%s\n", m.webHost, o.ID)

	return m.Send(o.Email, "Order "+o.OrderNumber+" confirmed", b.String())
}
