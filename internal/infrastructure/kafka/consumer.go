package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/events"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds events from Kafka into a local publisher. A message is
// retried until the publisher accepts it and only then committed, so
// subscribers see at-least-once delivery.
type Consumer struct {
	reader  messageReader
	target  events.Publisher
	logger  *zap.Logger
	backoff time.Duration
}

func NewConsumer(brokerURLs []string, groupID, topic string, target events.Publisher, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerURLs,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		Logger:         kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:    kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})
	return &Consumer{reader: reader, target: target, logger: logger, backoff: time.Second}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.Error(err))
			if !sleepCtx(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.deliver(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Failed to commit Kafka offset",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// deliver retries msg until it is handled. It returns false when ctx ends
// first, leaving the offset uncommitted.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) bool {
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		c.logger.Error("Event delivery failed, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		if !sleepCtx(ctx, c.backoff) {
			return false
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var evt domain.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// Undecodable messages can never succeed; skip them.
		c.logger.Error("Dropping malformed event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}
	return c.target.Publish(ctx, evt)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
