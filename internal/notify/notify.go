// Package notify is the outbound notification seam. The transport (an
// email provider in production) is an external collaborator; dispatch is
// single-attempt and a failure must never block the mutation it follows.
package notify

import (
	"context"

	"webcaf.uk/internal/obs"
)

// Message is one notification to a recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender dispatches notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the structured log instead of sending
// them. Default when no provider is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"type":    "notification",
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}
