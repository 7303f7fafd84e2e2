package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// runRepositoryInMemory хранит журнал запусков в памяти процесса.
type runRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Run
}

// NewRunRepository возвращает in-memory журнал запусков для локальной разработки и тестов.
func NewRunRepository() domain.RunRepository {
	return &runRepositoryInMemory{items: make(map[string]domain.Run)}
}

// Create сохраняет новый запуск, если ID ещё не занят.
func (r *runRepositoryInMemory) Create(run domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[run.ID]; exists {
		return domain.ErrRunAlreadyExists
	}
	r.items[run.ID] = cloneRun(run)
	return nil
}

// Get возвращает запуск или ErrRunNotFound.
func (r *runRepositoryInMemory) Get(id string) (domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.items[id]
	if !ok {
		return domain.Run{}, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// Save перезаписывает существующий запуск.
func (r *runRepositoryInMemory) Save(run domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[run.ID]; !ok {
		return domain.ErrRunNotFound
	}
	r.items[run.ID] = cloneRun(run)
	return nil
}

// ListRecent возвращает запуски от новых к старым.
func (r *runRepositoryInMemory) ListRecent(limit int) ([]domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Run, 0, len(r.items))
	for _, run := range r.items {
		result = append(result, cloneRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneRun(src domain.Run) domain.Run {
	dst := src
	if src.MealID != nil {
		id := *src.MealID
		dst.MealID = &id
	}
	return dst
}

var _ domain.RunRepository = (*runRepositoryInMemory)(nil)
