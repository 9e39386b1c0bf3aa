package service

import (
	"context"
	"encoding/json"
	"fmt"

	"assessengine/internal/common/mq"
	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"
	"assessengine/pkg/utils/logger"

	"go.uber.org/zap"
)

const headerEventType = "event_type"

// ContestFinalizer is the part of FinalizationService the consumer drives.
type ContestFinalizer interface {
	FinalizeContest(ctx context.Context, contestID int64) (*model.FinalizeResult, error)
}

// ContestClosedConsumer finalizes contests announced on the contest-closed topic.
type ContestClosedConsumer struct {
	finalizer ContestFinalizer
}

// NewContestClosedConsumer creates a consumer.
func NewContestClosedConsumer(finalizer ContestFinalizer) *ContestClosedConsumer {
	return &ContestClosedConsumer{finalizer: finalizer}
}

// HandleMessage implements mq.HandlerFunc. Returning an error leaves the message for retry.
func (c *ContestClosedConsumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	if eventType, ok := msg.GetHeader(headerEventType); ok && eventType != model.EventContestClosed {
		logger.Warn(ctx, "skip unexpected event type", zap.String("message_id", msg.ID), zap.String("event_type", eventType))
		return nil
	}
	event, err := decodeContestClosed(msg.Body)
	if err != nil {
		logger.Error(ctx, "drop malformed contest closed message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	result, err := c.finalizer.FinalizeContest(ctx, event.ContestID)
	if err == nil {
		logger.Info(ctx, "contest finalized from event",
			zap.Int64("contest_id", result.ContestID),
			zap.Int("ratings_updated", result.RatingsUpdated),
		)
		return nil
	}

	code := appErr.GetCode(err)
	if code.Retryable() {
		logger.Warn(ctx, "contest finalization deferred", zap.Int64("contest_id", event.ContestID), zap.Error(err))
		return err
	}
	if status := code.HTTPStatus(); status >= 400 && status < 500 {
		// Integrity errors are committed.
		logger.Error(ctx, "contest finalization rejected", zap.Int64("contest_id", event.ContestID), zap.Int("code", int(code)), zap.Error(err))
		return nil
	}
	return err
}

// decodeContestClosed accepts either an event envelope or a bare payload.
func decodeContestClosed(body []byte) (model.ContestClosedEvent, error) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.ContestClosedEvent{}, err
	}
	payload := body
	if len(envelope.Data) > 0 {
		if envelope.Type != "" && envelope.Type != model.EventContestClosed {
			return model.ContestClosedEvent{}, fmt.Errorf("unexpected event type %q", envelope.Type)
		}
		payload = envelope.Data
	}
	var event model.ContestClosedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return model.ContestClosedEvent{}, err
	}
	if event.ContestID <= 0 {
		return model.ContestClosedEvent{}, fmt.Errorf("contest_id is required")
	}
	return event, nil
}
