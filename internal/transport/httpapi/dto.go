package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

type parseOrderRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type runResponse struct {
	ID         string                  `json:"id"`
	Kind       string                  `json:"kind"`
	Status     string                  `json:"status"`
	Restaurant string                  `json:"restaurant,omitempty"`
	Meal       string                  `json:"meal,omitempty"`
	MealID     *int                    `json:"mealId"`
	PageURL    string                  `json:"pageUrl,omitempty"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt *time.Time              `json:"finishedAt,omitempty"`
	DurationMs int64                   `json:"durationMs,omitempty"`
	Timeline   []timelineEventResponse `json:"timeline,omitempty"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type runListResponse struct {
	Runs []runResponse `json:"runs"`
}

func newRunResponse(run domain.Run) runResponse {
	resp := runResponse{
		ID:         run.ID,
		Kind:       string(run.Kind),
		Status:     string(run.Status),
		Restaurant: run.Restaurant,
		Meal:       run.Meal,
		MealID:     run.MealID,
		PageURL:    run.PageURL,
		Error:      run.Error,
		StartedAt:  run.StartedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		resp.FinishedAt = &finished
		resp.DurationMs = run.Duration().Milliseconds()
	}
	return resp
}

func newTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return out
}
