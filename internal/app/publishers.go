package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging/rabbitmq"
)

// broker описывает один необязательный канал публикации событий.
type broker struct {
	name    string
	enabled bool
	dial    func(logger *log.Entry) (domain.EventPublisher, error)
}

func brokers(cfg Config) []broker {
	return []broker{
		{
			name:    "kafka",
			enabled: len(cfg.KafkaBrokers) > 0,
			dial: func(logger *log.Entry) (domain.EventPublisher, error) {
				p, err := kafka.NewProducer(cfg.KafkaBrokers, logger)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		},
		{
			name:    "rabbitmq",
			enabled: cfg.RabbitMQURL != "",
			dial: func(logger *log.Entry) (domain.EventPublisher, error) {
				p, err := rabbitmq.Dial(cfg.RabbitMQURL, messaging.ExchangePipeline, logger)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		},
	}
}

// newEventPublisher подключает все настроенные брокеры и объединяет их в fanout.
// Недоступный брокер пропускается с предупреждением; без брокеров возвращается nil
// и пайплайн работает без событий.
func newEventPublisher(cfg Config, logger *log.Entry) *messaging.Fanout {
	return dialBrokers(brokers(cfg), logger)
}

func dialBrokers(list []broker, logger *log.Entry) *messaging.Fanout {
	var publishers []domain.EventPublisher
	for _, b := range list {
		if !b.enabled {
			continue
		}
		entry := logger.WithField("broker", b.name)
		p, err := b.dial(entry)
		if err != nil {
			entry.WithError(err).Warn("Broker unavailable, events will not be published there")
			continue
		}
		entry.Info("Event publisher connected")
		publishers = append(publishers, p)
	}

	if len(publishers) == 0 {
		return nil
	}
	return messaging.NewFanout(publishers...)
}

func closePublisher(publisher *messaging.Fanout, logger *log.Entry) {
	if publisher == nil {
		return
	}
	if err := publisher.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close event publishers")
		return
	}
	logger.Info("Event publishers closed")
}
