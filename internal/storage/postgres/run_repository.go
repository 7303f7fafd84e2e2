package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

const runColumns = `id, kind, status, restaurant, meal, meal_id, page_url, error, started_at, finished_at`

type runRepository struct {
	db *sql.DB
}

// NewRunRepository создаёт PostgreSQL-реализацию журнала запусков.
func NewRunRepository(store *Store) domain.RunRepository {
	return &runRepository{db: store.DB()}
}

func (r *runRepository) Create(run domain.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		run.ID,
		string(run.Kind),
		string(run.Status),
		run.Restaurant,
		run.Meal,
		nullableInt(run.MealID),
		run.PageURL,
		run.Error,
		run.StartedAt.UTC(),
		nullableTime(run),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRunAlreadyExists
		}
		return fmt.Errorf("create pipeline run: %w", err)
	}
	return nil
}

func (r *runRepository) Get(id string) (domain.Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, domain.ErrRunNotFound
		}
		return domain.Run{}, fmt.Errorf("get pipeline run: %w", err)
	}
	return run, nil
}

func (r *runRepository) Save(run domain.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2,
		    restaurant = $3,
		    meal = $4,
		    meal_id = $5,
		    page_url = $6,
		    error = $7,
		    finished_at = $8
		WHERE id = $1
	`,
		run.ID,
		string(run.Status),
		run.Restaurant,
		run.Meal,
		nullableInt(run.MealID),
		run.PageURL,
		run.Error,
		nullableTime(run),
	)
	if err != nil {
		return fmt.Errorf("save pipeline run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pipeline run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *runRepository) ListRecent(limit int) ([]domain.Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run        domain.Run
		kind       string
		status     string
		mealID     sql.NullInt64
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&kind,
		&status,
		&run.Restaurant,
		&run.Meal,
		&mealID,
		&run.PageURL,
		&run.Error,
		&run.StartedAt,
		&finishedAt,
	); err != nil {
		return domain.Run{}, err
	}

	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunStatus(status)
	if mealID.Valid {
		id := int(mealID.Int64)
		run.MealID = &id
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time.UTC()
	}
	run.StartedAt = run.StartedAt.UTC()
	return run, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableTime(run domain.Run) any {
	if run.FinishedAt.IsZero() {
		return nil
	}
	return run.FinishedAt.UTC()
}

var _ domain.RunRepository = (*runRepository)(nil)
