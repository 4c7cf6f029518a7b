// Package notify is the port to the message-delivery collaborator. The
// engine emits (user, coach message, proposal) on proposal creation and
// does not know or care whether delivery happens over chat, push, or SMS.
package notify

import (
	"context"

	"github.com/nutrikit/adapt/pkg/logger"
	"github.com/nutrikit/adapt/pkg/metrics"
)

// Message is one coach message bound for a user.
type Message struct {
	UserID     string
	ProposalID string
	Body       string
}

// Notifier delivers a message to the user's transport of record.
type Notifier interface {
	Deliver(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the service log. It stands in for the
// real delivery collaborator in dev mode and tests.
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.Get().Named("notify")}
}

// Deliver logs the message.
func (n *LogNotifier) Deliver(ctx context.Context, m Message) error {
	n.logger.Info(ctx, "coach message",
		logger.String("userID", m.UserID),
		logger.String("proposalID", m.ProposalID),
		logger.String("body", m.Body),
	)
	metrics.RecordNotificationSent()
	return nil
}
