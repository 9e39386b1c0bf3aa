package repository_test

import (
	"context"
	"encoding/json"
	"testing"

	"assessengine/internal/grading/model"
	"assessengine/internal/grading/repository"
)

func TestMQEventPublisherKeys(t *testing.T) {
	producer := &fakeProducer{}
	topics := repository.DefaultTopics()
	pub := repository.NewMQEventPublisher(producer, topics)
	ctx := context.Background()

	if err := pub.PublishSubmissionGraded(ctx, &model.Submission{ID: "s-1", CandidateID: 42}); err != nil {
		t.Fatalf("publish submission: %v", err)
	}
	err := pub.PublishPerformanceUpdated(ctx, []model.Performance{
		{CandidateID: 1, DomainID: 7},
		{CandidateID: 2, DomainID: 7},
	})
	if err != nil {
		t.Fatalf("publish performance: %v", err)
	}

	sub := producer.published[topics.SubmissionGraded]
	if len(sub) != 1 || sub[0].Key != "42" {
		t.Fatalf("submission event must be keyed by candidate, got %+v", sub)
	}
	var event model.Event
	if err := json.Unmarshal(sub[0].Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != model.EventSubmissionGraded || event.ID == "" || event.ID != sub[0].ID {
		t.Fatalf("unexpected envelope: %+v", event)
	}

	perf := producer.published[topics.PerformanceUpdated]
	if len(perf) != 2 || perf[0].Key != "7" || perf[1].Key != "7" {
		t.Fatalf("performance events must be keyed by domain, got %+v", perf)
	}
}

func TestMQEventPublisherRequiresTopic(t *testing.T) {
	pub := repository.NewMQEventPublisher(&fakeProducer{}, repository.Topics{})
	if err := pub.PublishContestFinalized(context.Background(), model.FinalizeResult{ContestID: 1}); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}
