// Package kafka публикует события пайплайна в Kafka и читает их обратно.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
)

const (
	HeaderContentType = "content-type"
	HeaderEventType   = "x-event-type"
)

// Producer пишет события синхронно: PublishEvent возвращается после подтверждения брокера.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// producerConfig: идемпотентная запись с подтверждением всех реплик,
// события одного запуска не дублируются и не переставляются.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "voiceorder"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for %v: %w", brokers, err)
	}
	return NewProducerWithClient(sp, logger), nil
}

// NewProducerWithClient оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer в тестах.
func NewProducerWithClient(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sp, logger: logger}
}

// PublishEvent сериализует event в JSON и пишет его с ключом key.
// Ключ: id запуска, поэтому все события запуска лежат в одной партиции.
func (p *Producer) PublishEvent(topic string, key string, event interface{}) error {
	msg, err := producerMessage(topic, key, event)
	if err != nil {
		return err
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Kafka publish failed")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("Event published to kafka")
	return nil
}

func producerMessage(topic, key string, event interface{}) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event for %s: %w", topic, err)
	}

	headers := []sarama.RecordHeader{{Key: []byte(HeaderContentType), Value: []byte("application/json")}}
	if ev, ok := event.(*messaging.PipelineEvent); ok && ev != nil {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(ev.EventType)})
	}

	return &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Headers:   headers,
		Timestamp: time.Now(),
	}, nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
