package messaging

import (
	"errors"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// Fanout рассылает каждое событие во все настроенные брокеры.
type Fanout struct {
	publishers []domain.EventPublisher
}

// NewFanout собирает паблишеры, пропуская nil.
func NewFanout(publishers ...domain.EventPublisher) *Fanout {
	f := &Fanout{}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Len возвращает число подключённых брокеров.
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// PublishEvent публикует событие во все брокеры. Ошибка одного брокера не мешает остальным.
func (f *Fanout) PublishEvent(topic string, key string, event interface{}) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishEvent(topic, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close закрывает все брокеры.
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
