// Package event publishes vote changes to a kafka topic, keyed by poll id
// so that the events of a poll stay ordered in one partition.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  5,
		Compression:  kafka.Snappy,
	}
	return &KafkaPublisher{writer: w}
}

// PublishVoteEvents writes all events in one batch.
func (kp *KafkaPublisher) PublishVoteEvents(ctx context.Context, events []models.VoteEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal vote event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(e.PollID, 10)),
			Value: value,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(e.Type)},
			},
		})
	}
	if err := kp.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write vote events to kafka: %w", err)
	}
	return nil
}

func (kp *KafkaPublisher) Close() error {
	if err := kp.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishVoteEvents(context.Context, []models.VoteEvent) error { return nil }
