package domain

import "time"

// RunKind — какой из двух вызовов пайплайна выполняется.
type RunKind string

const (
	// RunKindCreate — поиск ресторана и блюда с захватом подтверждения.
	RunKindCreate RunKind = "create"
	// RunKindCheckout — добавление в корзину и оформление.
	RunKindCheckout RunKind = "checkout"
)

// RunStatus описывает жизненный цикл запуска пайплайна.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Final сообщает, что запуск завершён.
func (s RunStatus) Final() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run — журнальная запись одного запуска пайплайна.
type Run struct {
	ID         string
	Kind       RunKind
	Status     RunStatus
	Restaurant string
	Meal       string
	// MealID заполняется после захвата или из входного ConfirmOrder.
	MealID     *int
	PageURL    string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration возвращает длительность завершённого запуска.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
