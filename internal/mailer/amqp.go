package mailer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueName is the durable queue the delivery worker consumes.
const QueueName = "mail.outbound"

// AMQPMailer publishes Message payloads to RabbitMQ. A connection is
// dialed per publish; mail volume is low enough that holding a channel
// open is not worth the reconnect bookkeeping. Messages are persistent
// so they survive broker restarts.
type AMQPMailer struct {
	URL string
}

func NewAMQPMailer(url string) *AMQPMailer {
	return &AMQPMailer{URL: url}
}

func (m *AMQPMailer) publish(ctx context.Context, msg Message) error {
	msg.QueuedAt = time.Now().UTC().Format(time.RFC3339)

	conn, err := amqp.Dial(m.URL)
	if err != nil {
		log.Printf("mailer: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("mailer: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare so publisher and worker can start in any order.
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		log.Printf("mailer: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("mailer: marshal failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", QueueName, false, false, pub); err != nil {
		log.Printf("mailer: publish failed: %v", err)
		return err
	}
	return nil
}

func (m *AMQPMailer) SendVerification(ctx context.Context, to, name, verifyURL string) error {
	return m.publish(ctx, Message{
		To:       to,
		Subject:  "Confirm your email address",
		Template: "verification",
		Data:     map[string]string{"name": name, "verify_url": verifyURL},
	})
}

func (m *AMQPMailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.publish(ctx, Message{
		To:       to,
		Subject:  "Welcome to Epistola",
		Template: "welcome",
		Data:     map[string]string{"name": name},
	})
}

func (m *AMQPMailer) SendTwoFactorCode(ctx context.Context, to, name, code string) error {
	return m.publish(ctx, Message{
		To:       to,
		Subject:  "Your verification code",
		Template: "two_factor_code",
		Data:     map[string]string{"name": name, "code": code},
	})
}

func (m *AMQPMailer) SendEpistolaryDeleteConfirmation(ctx context.Context, to, name, epistolaryName, confirmURL string) error {
	return m.publish(ctx, Message{
		To:       to,
		Subject:  "Confirm epistolary deletion",
		Template: "epistolary_delete",
		Data:     map[string]string{"name": name, "epistolary_name": epistolaryName, "confirm_url": confirmURL},
	})
}

func (m *AMQPMailer) SendEmailChangeConfirmation(ctx context.Context, to, name, confirmURL string) error {
	return m.publish(ctx, Message{
		To:       to,
		Subject:  "Confirm your new email address",
		Template: "email_change",
		Data:     map[string]string{"name": name, "confirm_url": confirmURL},
	})
}
