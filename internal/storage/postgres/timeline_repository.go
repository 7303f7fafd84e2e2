package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

const (
	appendTimelineSQL = `INSERT INTO timeline_events (run_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`

	// id разводит события с одинаковым occurred в порядке записи.
	listTimelineSQL = `
		SELECT run_id, type, reason, occurred
		FROM timeline_events
		WHERE run_id = $1
		ORDER BY occurred, id`
)

type timelineTable struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
// Событие для несохранённого запуска отклоняется внешним ключом с ErrRunNotFound.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineTable{db: store.DB()}
}

func (r *timelineTable) Append(event domain.TimelineEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, appendTimelineSQL, event.RunID, event.Type, event.Reason, occurred.UTC())
	switch {
	case hasPgCode(err, pgForeignKeyViolation):
		return fmt.Errorf("append %s for run %s: %w", event.Type, event.RunID, domain.ErrRunNotFound)
	case err != nil:
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

func (r *timelineTable) List(runID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, listTimelineSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.RunID, &ev.Type, &ev.Reason, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Occurred = ev.Occurred.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineTable)(nil)
