package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/events"
)

// CloudEvent defines the structure for CloudEvents v1.0.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         *string     `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType *string     `json:"datacontenttype,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

const (
	cloudEventSpecVersion     = "1.0"
	cloudEventDataContentType = "application/json"
)

// Producer представляет собой продюсер Kafka для отправки событий CloudEvents
type Producer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
	topic    string
	source   string
}

// NewProducer создает новый экземпляр продюсера Kafka
func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   logger,
		topic:    topic,
		source:   "/session-service",
	}, nil
}

// Publish упаковывает событие жизненного цикла в CloudEvent и отправляет в Kafka
func (p *Producer) Publish(event events.Event) error {
	contentType := cloudEventDataContentType
	ce := CloudEvent{
		SpecVersion:     cloudEventSpecVersion,
		Type:            string(event.EventType()),
		Source:          p.source,
		ID:              uuid.New().String(),
		Time:            event.OccurredAt(),
		DataContentType: &contentType,
		Data:            event,
	}

	payload, err := json.Marshal(ce)
	if err != nil {
		p.logger.Error("Failed to marshal cloud event", zap.Error(err), zap.String("event_type", string(event.EventType())))
		return fmt.Errorf("failed to marshal cloud event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ce.ID),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		p.logger.Error("Failed to produce event", zap.Error(err), zap.String("event_type", string(event.EventType())))
		return fmt.Errorf("failed to produce event: %w", err)
	}
	return nil
}

// Close закрывает продюсер
func (p *Producer) Close() error {
	return p.producer.Close()
}
