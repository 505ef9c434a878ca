// Package notification queues transactional emails for activation outcomes.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"passculture/internal/identitycheck"
	usermodels "passculture/internal/user/models"
)

const (
	RoutingKeyActivation = "email.beneficiary.activated"
	RoutingKeyRejection  = "email.beneficiary.rejected"

	TemplateActivation = "beneficiary_activation"
	TemplateRejection  = "beneficiary_rejection"
)

// Notifier sends activation and rejection emails.
type Notifier interface {
	SendActivationEmail(ctx context.Context, user *usermodels.User) error
	SendRejectionEmail(ctx context.Context, payload *identitycheck.ApplicationPayload, reason string) error
}

// Publisher is the subset of the RabbitMQ producer the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
}

// EmailJob is the message consumed by the mailer.
type EmailJob struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Data     map[string]string `json:"data,omitempty"`
}

// EmailNotifier publishes EmailJobs to an exchange.
type EmailNotifier struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger
}

// NewEmailNotifier constructs an EmailNotifier.
func NewEmailNotifier(publisher Publisher, exchange string, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{publisher: publisher, exchange: exchange, logger: logger}
}

func (n *EmailNotifier) SendActivationEmail(ctx context.Context, user *usermodels.User) error {
	if user == nil {
		return fmt.Errorf("activation email requires a user")
	}
	job := EmailJob{
		Template: TemplateActivation,
		To:       user.Email,
		Data: map[string]string{
			"user_id":    user.ID.String(),
			"first_name": user.FirstName,
		},
	}
	return n.publish(ctx, RoutingKeyActivation, job)
}

func (n *EmailNotifier) SendRejectionEmail(ctx context.Context, payload *identitycheck.ApplicationPayload, reason string) error {
	if payload == nil {
		return fmt.Errorf("rejection email requires an application")
	}
	job := EmailJob{
		Template: TemplateRejection,
		To:       payload.Email,
		Data: map[string]string{
			"application_id": payload.ApplicationID.String(),
			"first_name":     payload.FirstName,
			"reason":         reason,
		},
	}
	return n.publish(ctx, RoutingKeyRejection, job)
}

func (n *EmailNotifier) publish(ctx context.Context, routingKey string, job EmailJob) error {
	if err := n.publisher.Publish(ctx, n.exchange, routingKey, job); err != nil {
		return fmt.Errorf("queue %s email: %w", job.Template, err)
	}
	n.logger.InfoContext(ctx, "email queued",
		"template", job.Template,
		"routing_key", routingKey,
	)
	return nil
}
