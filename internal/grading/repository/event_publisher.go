package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"assessengine/internal/common/mq"
	"assessengine/internal/grading/model"
	appErr "assessengine/pkg/errors"

	"github.com/google/uuid"
)

// Topics names the outbound and inbound topics.
type Topics struct {
	SubmissionGraded     string `yaml:"submissionGraded"`
	ParticipationUpdated string `yaml:"participationUpdated"`
	PerformanceUpdated   string `yaml:"performanceUpdated"`
	ContestFinalized     string `yaml:"contestFinalized"`
	ContestClosed        string `yaml:"contestClosed"`
}

// DefaultTopics returns the default topic names.
func DefaultTopics() Topics {
	return Topics{
		SubmissionGraded:     "grading.submission.graded",
		ParticipationUpdated: "grading.participation.updated",
		PerformanceUpdated:   "grading.performance.updated",
		ContestFinalized:     "grading.contest.finalized",
		ContestClosed:        "grading.contest.closed",
	}
}

// EventPublisher emits the engine's outbound signals.
type EventPublisher interface {
	PublishSubmissionGraded(ctx context.Context, submission *model.Submission) error
	PublishParticipationUpdated(ctx context.Context, participation *model.Participation) error
	PublishPerformanceUpdated(ctx context.Context, performances []model.Performance) error
	PublishContestFinalized(ctx context.Context, result model.FinalizeResult) error
}

// MQEventPublisher publishes events to a message queue.
type MQEventPublisher struct {
	queue  mq.Producer
	topics Topics
	now    func() time.Time
}

// NewMQEventPublisher creates a new MQ event publisher.
func NewMQEventPublisher(queue mq.Producer, topics Topics) *MQEventPublisher {
	return &MQEventPublisher{queue: queue, topics: topics, now: time.Now}
}

func (p *MQEventPublisher) PublishSubmissionGraded(ctx context.Context, submission *model.Submission) error {
	if submission == nil || submission.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	msg, err := p.message(model.EventSubmissionGraded, submission, strconv.FormatInt(submission.CandidateID, 10))
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topics.SubmissionGraded, msg)
}

func (p *MQEventPublisher) PublishParticipationUpdated(ctx context.Context, participation *model.Participation) error {
	if participation == nil {
		return appErr.ValidationError("participation", "required")
	}
	msg, err := p.message(model.EventParticipationUpdated, participation, strconv.FormatInt(participation.CandidateID, 10))
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topics.ParticipationUpdated, msg)
}

// PublishPerformanceUpdated sends one message per performance, keyed by domain so a domain's updates stay ordered.
func (p *MQEventPublisher) PublishPerformanceUpdated(ctx context.Context, performances []model.Performance) error {
	if len(performances) == 0 {
		return nil
	}
	messages := make([]*mq.Message, 0, len(performances))
	for i := range performances {
		msg, err := p.message(model.EventPerformanceUpdated, performances[i], strconv.FormatInt(performances[i].DomainID, 10))
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}
	if err := p.check(p.topics.PerformanceUpdated); err != nil {
		return err
	}
	if err := p.queue.PublishBatch(ctx, p.topics.PerformanceUpdated, messages); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish performance events failed")
	}
	return nil
}

func (p *MQEventPublisher) PublishContestFinalized(ctx context.Context, result model.FinalizeResult) error {
	msg, err := p.message(model.EventContestFinalized, result, strconv.FormatInt(result.DomainID, 10))
	if err != nil {
		return err
	}
	return p.publish(ctx, p.topics.ContestFinalized, msg)
}

func (p *MQEventPublisher) message(eventType string, data interface{}, key string) (*mq.Message, error) {
	event := model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		CreatedAt: p.now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event failed: %w", eventType, err)
	}
	msg := mq.NewMessage(payload)
	msg.ID = event.ID
	msg.Key = key
	msg.SetHeader("event_type", eventType)
	return msg, nil
}

func (p *MQEventPublisher) check(topic string) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	return nil
}

func (p *MQEventPublisher) publish(ctx context.Context, topic string, msg *mq.Message) error {
	if err := p.check(topic); err != nil {
		return err
	}
	if err := p.queue.Publish(ctx, topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish event failed")
	}
	return nil
}

// NopEventPublisher drops every event. Used when no broker is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishSubmissionGraded(context.Context, *model.Submission) error {
	return nil
}

func (NopEventPublisher) PublishParticipationUpdated(context.Context, *model.Participation) error {
	return nil
}

func (NopEventPublisher) PublishPerformanceUpdated(context.Context, []model.Performance) error {
	return nil
}

func (NopEventPublisher) PublishContestFinalized(context.Context, model.FinalizeResult) error {
	return nil
}
