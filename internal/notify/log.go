package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogNotifier writes messages to the log instead of a gateway.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	n.Logger.Info("notification",
		zap.String("delivery_id", id),
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("template", msg.Template),
		zap.String("reference", msg.Reference),
	)
	return id, nil
}
