package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

var ErrNoTopics = errors.New("kafka: consumer needs at least one topic")

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer runs a consumer group over the journal topics. A handler error
// ends the session without marking the message, so the partition resumes
// from it after the rebalance and per-saga order is kept.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	logger  *slog.Logger
	retry   time.Duration
}

func NewConsumer(brokers []string, groupID string, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = groupID
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return NewConsumerFromGroup(group, handler, logger.With("group", groupID)), nil
}

// NewConsumerFromGroup wraps an existing group, mostly for tests.
func NewConsumerFromGroup(group sarama.ConsumerGroup, handler MessageHandler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: group, handler: handler, logger: logger, retry: time.Second}
}

func (c *Consumer) Run(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	go c.logErrors(ctx)
	for {
		err := c.group.Consume(ctx, topics, groupHandler{handler: c.handler, logger: c.logger})
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			c.logger.Warn("consumer session ended", "topics", topics, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry):
			}
		}
	}
}

func (c *Consumer) logErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), msg); err != nil {
				h.logger.Error("journal event not handled", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}
