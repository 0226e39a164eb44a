package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/raykavin/tradedash/pkg/logger"
)

// MailParams contains all parameters needed to initialize a Mail instance
type MailParams struct {
	SMTPServerPort    int
	SMTPServerAddress string
	To                string
	From              string
	Password          string
}

// Mail sends alerts by email
type Mail struct {
	params MailParams
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	log    logger.Logger
}

// NewMail creates a mail notifier authenticating as params.From
func NewMail(params MailParams, log logger.Logger) *Mail {
	return &Mail{
		params: params,
		auth:   smtp.PlainAuth("", params.From, params.Password, params.SMTPServerAddress),
		send:   smtp.SendMail,
		log:    log,
	}
}

// Notify sends text, with markdown emphasis removed, as a plain email
func (m *Mail) Notify(text string) {
	serverAddress := fmt.Sprintf("%s:%d", m.params.SMTPServerAddress, m.params.SMTPServerPort)
	plain := strings.NewReplacer("*", "", "`", "").Replace(text)

	subject, _, _ := strings.Cut(plain, "\n")
	message := fmt.Sprintf("To: %s\r\nFrom: \"tradedash\" <%s>\r\nSubject: %s\r\n\r\n%s\r\n",
		m.params.To, m.params.From, subject, plain)

	if err := m.send(serverAddress, m.auth, m.params.From, []string{m.params.To}, []byte(message)); err != nil {
		m.log.WithError(err).Error("failed to send email notification")
	}
}
