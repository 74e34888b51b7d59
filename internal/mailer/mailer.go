// Package mailer hands outbound mail to the delivery pipeline. The
// service never talks SMTP itself: messages are published to a durable
// RabbitMQ queue and a separate worker renders and delivers them.
package mailer

import "context"

// Message is the payload published for each outbound mail. Template
// names select the rendered layout on the delivery side; Data carries
// the template variables.
type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
	QueuedAt string            `json:"queued_at"`
}

// Mailer enqueues the transactional mails the service sends. Errors are
// returned so callers can decide whether a failed enqueue should fail
// the request; most flows log and continue.
type Mailer interface {
	SendVerification(ctx context.Context, to, name, verifyURL string) error
	SendWelcome(ctx context.Context, to, name string) error
	SendTwoFactorCode(ctx context.Context, to, name, code string) error
	SendEpistolaryDeleteConfirmation(ctx context.Context, to, name, epistolaryName, confirmURL string) error
	SendEmailChangeConfirmation(ctx context.Context, to, name, confirmURL string) error
}
