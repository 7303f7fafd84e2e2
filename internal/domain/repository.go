package domain

// RunRepository описывает требования к журналу запусков пайплайна.
type RunRepository interface {
	// Create сохраняет новый запуск. Возвращает ErrRunAlreadyExists, если ID занят.
	Create(run Run) error
	// Get возвращает запуск по идентификатору или ErrRunNotFound.
	Get(id string) (Run, error)
	// Save перезаписывает запуск (статус, ошибка, время завершения).
	Save(run Run) error
	// ListRecent возвращает последние запуски, новые первыми; limit <= 0 — без ограничения.
	ListRecent(limit int) ([]Run, error)
}
