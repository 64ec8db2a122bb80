package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"library-desk/internal/cache"
	"library-desk/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// CatalogInvalidator drops cached catalog pages when another API instance
// changes the catalog or lends a book
type CatalogInvalidator struct {
	consumerGroup sarama.ConsumerGroup
	handler       *catalogInvalidationHandler
	logger        *zap.Logger
	groupID       string
	topics        []string
}

// NewCatalogInvalidator creates the consumer group for cfg.KafkaGroupID
func NewCatalogInvalidator(cfg *config.Config, cacheClient cache.Cache, logger *zap.Logger) (*CatalogInvalidator, error) {
	logger.Info("🔌 Creating Kafka consumer",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group_id", cfg.KafkaGroupID),
	)

	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.KafkaClientID
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	// Events older than this instance's cache are irrelevant to it
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaGroupID, saramaConfig)
	if err != nil {
		logger.Error("❌ Failed to create Kafka consumer group",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return NewCatalogInvalidatorWithGroup(consumerGroup, cfg, cacheClient, logger), nil
}

// NewCatalogInvalidatorWithGroup wraps an existing consumer group
func NewCatalogInvalidatorWithGroup(group sarama.ConsumerGroup, cfg *config.Config, cacheClient cache.Cache, logger *zap.Logger) *CatalogInvalidator {
	return &CatalogInvalidator{
		consumerGroup: group,
		handler: &catalogInvalidationHandler{
			cache:  cacheClient,
			origin: cfg.InstanceID,
			logger: logger,
		},
		logger:  logger,
		groupID: cfg.KafkaGroupID,
		topics:  []string{cfg.KafkaTopicBooks, cfg.KafkaTopicLoans},
	}
}

// Start consumes until ctx is done or the group fails
func (c *CatalogInvalidator) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	var consumeErr error
	go func() {
		defer wg.Done()
		for {
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				c.logger.Error("Error from consumer", zap.Error(err))
				consumeErr = err
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Error("Consumer error", zap.Error(err))
		}
	}()

	c.logger.Info("✅ Kafka consumer started for catalog cache invalidation",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID),
	)

	wg.Wait()
	return consumeErr
}

// Close closes the consumer group
func (c *CatalogInvalidator) Close() error {
	return c.consumerGroup.Close()
}

type catalogInvalidationHandler struct {
	cache  cache.Cache
	origin string
	logger *zap.Logger
}

func (h *catalogInvalidationHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *catalogInvalidationHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim drops every cached catalog page per foreign event. The
// publishing instance has already dropped its own.
func (h *catalogInvalidationHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			h.handle(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *catalogInvalidationHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	eventType := headerValue(message.Headers, "event-type")
	if eventType == "" {
		h.logger.Warn("Message without event type, skipping",
			zap.String("topic", message.Topic),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
		)
		return
	}
	if h.origin != "" && headerValue(message.Headers, OriginHeader) == h.origin {
		return
	}

	if err := cache.InvalidateCatalog(ctx, h.cache); err != nil {
		h.logger.Warn("Failed to invalidate catalog cache",
			zap.String("event-type", eventType),
			zap.Error(err),
		)
		return
	}
	h.logger.Debug("Catalog cache invalidated",
		zap.String("event-type", eventType),
		zap.String("topic", message.Topic),
	)
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
