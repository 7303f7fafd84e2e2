package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
)

const (
	// TopicDeadLetterQueue принимает события, которые обработчик так и не смог принять.
	TopicDeadLetterQueue = messaging.TopicPipelineEvents + ".dlq"
	// HeaderRetryCount хранит число уже сделанных попыток обработки.
	HeaderRetryCount = "x-retry-count"

	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig настраивает группу потребителей событий пайплайна.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries ограничивает общее число попыток с учётом заголовка x-retry-count.
	MaxRetries int
	// RetryDelay: пауза между попытками; NewConsumer подставляет 500ms вместо нуля.
	RetryDelay time.Duration
	// DLQ получает сообщения, исчерпавшие попытки; nil оставляет их непрочитанными.
	DLQ    *Producer
	Logger *log.Entry
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.Logger == nil {
		c.Logger = log.WithField("component", "kafka-consumer")
	}
	return c
}

// DeadLetter описывает сообщение в TopicDeadLetterQueue.
type DeadLetter struct {
	Topic     string    `json:"original_topic"`
	Partition int32     `json:"original_partition"`
	Offset    int64     `json:"original_offset"`
	Key       string    `json:"original_key"`
	Value     string    `json:"original_value"`
	Error     string    `json:"error_message"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

// Consumer читает события пайплайна группой потребителей.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler MessageHandler
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам. Смещение для новой группы берётся с конца топика:
// хвост событий нужен только о новых запусках.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer requires a message handler")
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	cfg = cfg.withDefaults()

	config := sarama.NewConfig()
	config.ClientID = "voiceorder-consumer"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{group: group, cfg: cfg, handler: handler, logger: cfg.Logger}
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.group.Consume(ctx, c.cfg.Topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithFields(log.Fields{
		"topics": c.cfg.Topics,
		"group":  c.cfg.GroupID,
	}).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(session.Context(), message); err != nil {
				// Без отметки группа прочитает сообщение снова после rebalance.
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// process вызывает обработчик, пока общее число попыток меньше MaxRetries,
// затем отдаёт сообщение в DLQ. nil означает, что сообщение можно отметить.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := retriesFrom(message)
	var err error
	for {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		attempts++
		if attempts >= c.cfg.MaxRetries {
			break
		}
		c.logger.WithError(err).WithFields(messageFields(message)).WithField("attempt", attempts).Warn("message processing failed, will retry")
		if waitErr := sleepContext(ctx, c.cfg.RetryDelay); waitErr != nil {
			return err
		}
	}

	if c.cfg.DLQ == nil {
		return err
	}
	if dlqErr := c.deadLetter(message, err, attempts); dlqErr != nil {
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(messageFields(message)).WithField("attempts", attempts).Info("message sent to DLQ")
	return nil
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	letter := DeadLetter{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       string(message.Key),
		Value:     string(message.Value),
		Error:     cause.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}
	return c.cfg.DLQ.PublishEvent(TopicDeadLetterQueue, letter.Key, letter)
}

// retriesFrom читает x-retry-count; нечисловое значение считается нулём.
func retriesFrom(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(header.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}
}

// ParsePipelineEvent разбирает событие пайплайна из сообщения.
func ParsePipelineEvent(message *sarama.ConsumerMessage) (*messaging.PipelineEvent, error) {
	var event messaging.PipelineEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline event: %w", err)
	}
	if event.RunID == "" || event.EventType == "" {
		return nil, errors.New("pipeline event without run_id or event_type")
	}
	return &event, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
