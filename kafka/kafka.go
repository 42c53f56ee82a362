package kafka

import (
	"clinipratica/api/config"
	"clinipratica/api/logger"
	"clinipratica/api/models"
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

var (
	MessageProducer *kafka.Producer
	BillingTopic    string = "tenant_billing"
)

// ProducerConfig builds the librdkafka settings. SASL is only turned on when
// credentials are present so a local broker works without them.
func ProducerConfig(cfg config.KafkaConfig) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": cfg.BootstrapServers,
		"client.id":         "clinipratica-api",
		"acks":              "all",
	}
	if cfg.APIKey != "" {
		configMap.SetKey("sasl.username", cfg.APIKey)
		configMap.SetKey("sasl.password", cfg.APISecret)
		configMap.SetKey("security.protocol", "SASL_SSL")
		configMap.SetKey("sasl.mechanism", "PLAIN")
	}
	return configMap
}

func InitProducer(cfg config.KafkaConfig) error {
	if cfg.BillingTopic != "" {
		BillingTopic = cfg.BillingTopic
	}

	var err error
	MessageProducer, err = kafka.NewProducer(ProducerConfig(cfg))
	if err != nil {
		logger.Get().Error("failed to initialize Kafka producer",
			zap.String("bootstrap_servers", cfg.BootstrapServers),
			zap.Error(err))
		return err
	}

	go logDeliveryReports(MessageProducer)

	logger.Get().Info("Kafka producer initialized successfully",
		zap.String("bootstrap_servers", cfg.BootstrapServers),
		zap.String("topic", BillingTopic))
	return nil
}

func logDeliveryReports(p *kafka.Producer) {
	for e := range p.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logger.Get().Error("message delivery failed",
					zap.Stringp("topic", ev.TopicPartition.Topic),
					zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			logger.Get().Warn("kafka producer error", zap.Error(ev))
		}
	}
}

func ProduceMessage(topic string, key, message []byte) error {
	if MessageProducer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          message,
	}

	err := MessageProducer.Produce(msg, nil)
	if err != nil {
		logger.Get().Error("failed to produce message",
			zap.String("topic", topic),
			zap.Error(err))
		return err
	}

	logger.Get().Debug("message produced successfully",
		zap.String("topic", topic))
	return nil
}

// CloseProducer flushes pending messages for up to timeoutMs and closes the producer.
func CloseProducer(timeoutMs int) {
	if MessageProducer == nil {
		return
	}
	if remaining := MessageProducer.Flush(timeoutMs); remaining > 0 {
		logger.Get().Warn("kafka messages left unflushed", zap.Int("count", remaining))
	}
	MessageProducer.Close()
	MessageProducer = nil
}

// EncodeBillingChange serializes a change keyed by tenant id so every change
// for one tenant lands on the same partition in order.
func EncodeBillingChange(change models.BillingChange) (key, value []byte, err error) {
	value, err = json.Marshal(change)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal billing change: %w", err)
	}
	return []byte(change.TenantID), value, nil
}

// Publisher adapts the producer to billing.Publisher. A disabled Publisher
// drops changes so Kafka stays optional.
type Publisher struct {
	enabled bool
	topic   string
	produce func(topic string, key, value []byte) error
}

func NewPublisher(enabled bool) *Publisher {
	return &Publisher{enabled: enabled, topic: BillingTopic, produce: ProduceMessage}
}

func (p *Publisher) PublishBillingChange(ctx context.Context, change models.BillingChange) error {
	if p == nil || !p.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key, value, err := EncodeBillingChange(change)
	if err != nil {
		return err
	}
	if err := p.produce(p.topic, key, value); err != nil {
		return fmt.Errorf("failed to publish billing change for tenant %s: %w", change.TenantID, err)
	}
	return nil
}
