package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"connect-messaging/internal/domain"
	"connect-messaging/internal/usecase"
)

type Relayer interface {
	Relay(ctx context.Context, msg domain.StreamMessage) (usecase.RelayOutput, error)
}

// OutboundHandler consumes chat streaming events published to SNS.
type OutboundHandler struct {
	relayer Relayer
	log     logrus.FieldLogger
}

func NewOutboundHandler(relayer Relayer, log logrus.FieldLogger) (*OutboundHandler, error) {
	if relayer == nil {
		return nil, errors.New("handler: relayer must not be nil")
	}
	if log == nil {
		return nil, errors.New("handler: logger must not be nil")
	}
	return &OutboundHandler{relayer: relayer, log: log}, nil
}

// Handle relays every record. Records that can never succeed are logged and
// dropped; the rest are returned joined so the event is redelivered.
func (h *OutboundHandler) Handle(ctx context.Context, event events.SNSEvent) error {
	var errs []error
	for _, record := range event.Records {
		log := h.log.WithFields(logrus.Fields{
			"operation":    "HandleOutbound",
			"snsMessageId": record.SNS.MessageID,
		})

		var msg domain.StreamMessage
		if err := json.Unmarshal([]byte(record.SNS.Message), &msg); err != nil {
			log.WithError(err).Error("dropping undecodable stream message")
			continue
		}

		out, err := h.relayer.Relay(ctx, msg)
		if err != nil {
			var ue *usecase.Error
			if errors.As(err, &ue) && !ue.Retryable() {
				log.WithError(err).Error("dropping message the gateway refused")
				continue
			}
			errs = append(errs, fmt.Errorf("handler: record %s: %w", record.SNS.MessageID, err))
			continue
		}
		log.WithFields(logrus.Fields{
			"status": out.Status,
			"reason": out.Reason,
		}).Debug("stream message handled")
	}
	return errors.Join(errs...)
}
