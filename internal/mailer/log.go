package mailer

import (
	"context"
	"log"
	"sync"
)

// LogMailer records messages in memory and writes them to the standard
// logger. It backs tests and local runs without a broker.
type LogMailer struct {
	mu   sync.Mutex
	Sent []Message
}

func NewLogMailer() *LogMailer { return &LogMailer{} }

func (m *LogMailer) record(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	log.Printf("mail: to=%s template=%s", msg.To, msg.Template)
	return nil
}

// Last returns the most recently recorded message, or nil.
func (m *LogMailer) Last() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	msg := m.Sent[len(m.Sent)-1]
	return &msg
}

func (m *LogMailer) SendVerification(_ context.Context, to, name, verifyURL string) error {
	return m.record(Message{To: to, Template: "verification",
		Data: map[string]string{"name": name, "verify_url": verifyURL}})
}

func (m *LogMailer) SendWelcome(_ context.Context, to, name string) error {
	return m.record(Message{To: to, Template: "welcome", Data: map[string]string{"name": name}})
}

func (m *LogMailer) SendTwoFactorCode(_ context.Context, to, name, code string) error {
	return m.record(Message{To: to, Template: "two_factor_code",
		Data: map[string]string{"name": name, "code": code}})
}

func (m *LogMailer) SendEpistolaryDeleteConfirmation(_ context.Context, to, name, epistolaryName, confirmURL string) error {
	return m.record(Message{To: to, Template: "epistolary_delete",
		Data: map[string]string{"name": name, "epistolary_name": epistolaryName, "confirm_url": confirmURL}})
}

func (m *LogMailer) SendEmailChangeConfirmation(_ context.Context, to, name, confirmURL string) error {
	return m.record(Message{To: to, Template: "email_change",
		Data: map[string]string{"name": name, "confirm_url": confirmURL}})
}
