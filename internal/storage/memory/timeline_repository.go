package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

type timelineRepositoryInMemory struct {
	mu    sync.RWMutex
	byRun map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
// Существование запуска не проверяется.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{byRun: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие после всех событий с тем же или более ранним временем.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byRun[event.RunID]
	at := sort.Search(len(events), func(i int) bool {
		return events[i].Occurred.After(event.Occurred)
	})
	events = append(events, domain.TimelineEvent{})
	copy(events[at+1:], events[at:])
	events[at] = event
	r.byRun[event.RunID] = events
	return nil
}

func (r *timelineRepositoryInMemory) List(runID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byRun[runID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
