package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/progress"
)

// Publisher abstracts the message bus so tests can swap in a memory
// implementation.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// EventsSink publishes selected stages to a Pub/Sub topic so downstream
// consumers can react to sealed partitions and run completions without
// polling the ops API.
type EventsSink struct {
	publisher Publisher
	topic     string
	stages    map[progress.Stage]struct{}
	logger    *zap.Logger
}

// DefaultPublishedStages is the stage set published when none is configured.
// High-volume per-filing stages stay out of the topic on purpose.
func DefaultPublishedStages() []progress.Stage {
	return []progress.Stage{
		progress.StagePartitionSeal,
		progress.StageRunDone,
		progress.StageRunError,
	}
}

// NewEventsSink builds a sink that publishes the given stages to topic.
func NewEventsSink(publisher Publisher, topic string, stages []progress.Stage, logger *zap.Logger) *EventsSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(stages) == 0 {
		stages = DefaultPublishedStages()
	}
	set := make(map[progress.Stage]struct{}, len(stages))
	for _, stage := range stages {
		set[stage] = struct{}{}
	}
	return &EventsSink{
		publisher: publisher,
		topic:     topic,
		stages:    set,
		logger:    logger,
	}
}

// Consume publishes every event whose stage is in the configured set. The
// first publish failure is returned; the hub logs it and keeps going, since
// the events topic is advisory rather than durable state.
func (s *EventsSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if _, ok := s.stages[evt.Stage]; !ok {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, evt)
		if err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Stage, err)
		}
		s.logger.Debug("published progress event",
			zap.String("topic", s.topic),
			zap.String("stage", string(evt.Stage)),
			zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action. The publisher
// is owned and closed by the composition root.
func (s *EventsSink) Close(context.Context) error {
	return nil
}
