package notifications

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// Deliverer pushes a stored notification to the user through a channel.
// Delivery is best effort: the manager logs failures and moves on.
type Deliverer interface {
	Deliver(ctx context.Context, notif Notification) error
}

// NoOpDeliverer discards notifications. Used when no channel is wired.
type NoOpDeliverer struct{}

func (NoOpDeliverer) Deliver(ctx context.Context, notif Notification) error {
	return nil
}

// postmarkClient is the slice of the Postmark API the deliverer uses.
type postmarkClient interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailDeliverer sends notifications as transactional email via Postmark.
type EmailDeliverer struct {
	client postmarkClient
	from   string
}

// EmailConfig holds Postmark credentials, populated from env.
type EmailConfig struct {
	ServerToken string `env:"POSTMARK_SERVER_TOKEN,required"`
	FromEmail   string `env:"POSTMARK_FROM_EMAIL,required"`
}

// NewEmailDeliverer creates a Postmark-backed deliverer.
func NewEmailDeliverer(cfg EmailConfig) *EmailDeliverer {
	return &EmailDeliverer{
		client: postmark.NewClient(cfg.ServerToken, ""),
		from:   cfg.FromEmail,
	}
}

func (d *EmailDeliverer) Deliver(ctx context.Context, notif Notification) error {
	if notif.Email == "" {
		return nil
	}

	body := notif.Message
	if notif.Action != nil {
		body = fmt.Sprintf("%s\n\n%s: %s", notif.Message, notif.Action.Label, notif.Action.URL)
	}

	_, err := d.client.SendEmail(ctx, postmark.Email{
		From:     d.from,
		To:       notif.Email,
		Subject:  notif.Title,
		TextBody: body,
		Tag:      string(notif.Event),
	})
	if err != nil {
		return fmt.Errorf("postmark delivery failed: %w", err)
	}
	return nil
}
