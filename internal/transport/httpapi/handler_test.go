package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
)

type fakePipeline struct {
	mu       sync.Mutex
	creates  []domain.Order
	confirms []domain.ConfirmOrder
	runIDs   []string

	confirmResult domain.ConfirmOrder
	statusResult  domain.OrderStatus
}

func (f *fakePipeline) CreateOrder(ctx context.Context, order domain.Order) domain.ConfirmOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, order)
	id, _ := automation.RunIDFromContext(ctx)
	f.runIDs = append(f.runIDs, id)
	return f.confirmResult
}

func (f *fakePipeline) OrderFood(ctx context.Context, confirm domain.ConfirmOrder) domain.OrderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, confirm)
	id, _ := automation.RunIDFromContext(ctx)
	f.runIDs = append(f.runIDs, id)
	return f.statusResult
}

type fakeExtractor struct {
	order domain.Order
	err   error
}

func (f fakeExtractor) Extract(context.Context, string) (domain.Order, error) {
	return f.order, f.err
}

func do(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrder_ReturnsCapturedMeal(t *testing.T) {
	pipeline := &fakePipeline{
		confirmResult: domain.NewConfirmOrder(1, "iVBORw0KGgo=", "https://wolt.com/en/svn/ljubljana/restaurant/kitajska-vas", "presneti piščanec"),
	}
	router := NewRouter(NewHandler(pipeline))

	w := do(t, router, http.MethodPost, "/order", `{"restaurant":"Kitajska Vas","meal":"Presneti piščanec"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	runID := w.Header().Get(HeaderRunID)
	require.NotEmpty(t, runID)
	require.Equal(t, []string{runID}, pipeline.runIDs)
	require.Equal(t, []domain.Order{{Restaurant: "Kitajska Vas", Meal: "Presneti piščanec"}}, pipeline.creates)

	var got domain.ConfirmOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.ID)
	require.Equal(t, 1, *got.ID)
	require.Equal(t, "iVBORw0KGgo=", got.MealImage)
}

func TestCreateOrder_PipelineFailureIsStillOK(t *testing.T) {
	pipeline := &fakePipeline{confirmResult: domain.FailedConfirmOrder(domain.ErrMealNotFound)}
	router := NewRouter(NewHandler(pipeline))

	w := do(t, router, http.MethodPost, "/order", `{"restaurant":"Kitajska Vas","meal":"nonexistent dish"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":null,"pageUrl":"","error":"Meal not found"}`, w.Body.String())
}

func TestMalformedBodies(t *testing.T) {
	pipeline := &fakePipeline{}
	router := NewRouter(NewHandler(pipeline))

	w := do(t, router, http.MethodPost, "/order", `{"restaurant":`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"id":null,"pageUrl":"","error":"invalid request body"}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/confirmOrder", `not json`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"status":"error","message":"Order not placed","waitingTime":"","error":"invalid request body"}`, w.Body.String())

	require.Empty(t, pipeline.creates)
	require.Empty(t, pipeline.confirms)
}

func TestConfirmOrder_IdempotencyKey(t *testing.T) {
	pipeline := &fakePipeline{statusResult: domain.ConfirmedStatus("25-35 min")}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil, nil)
	router := NewRouter(NewHandler(pipeline, WithIdempotency(guard)))

	body := `{"id":0,"pageUrl":"https://wolt.com/en/svn/ljubljana/restaurant/kitajska-vas","mealName":"pekinška raca"}`
	headers := map[string]string{HeaderIdempotencyKey: "voice-42"}

	first := do(t, router, http.MethodPost, "/confirmOrder", body, headers)
	require.Equal(t, http.StatusOK, first.Code)
	require.NotEmpty(t, first.Header().Get(HeaderRunID))
	require.Empty(t, first.Header().Get(HeaderIdempotentReplay))

	second := do(t, router, http.MethodPost, "/confirmOrder", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Len(t, pipeline.confirms, 1, "checkout must run once per key")

	other := do(t, router, http.MethodPost, "/confirmOrder", `{"id":3,"pageUrl":"https://wolt.com/r"}`, headers)
	require.Equal(t, http.StatusConflict, other.Code)

	var status domain.OrderStatus
	require.NoError(t, json.Unmarshal(other.Body.Bytes(), &status))
	require.Equal(t, domain.StatusError, status.Status)
	require.Len(t, pipeline.confirms, 1)
}

func TestConfirmOrder_KeyInProgress(t *testing.T) {
	pipeline := &fakePipeline{}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil, nil)
	router := NewRouter(NewHandler(pipeline, WithIdempotency(guard)))

	id := 2
	confirm := domain.ConfirmOrder{ID: &id, PageURL: "https://wolt.com/r"}
	payload, err := json.Marshal(confirm)
	require.NoError(t, err)
	_, err = guard.Begin("busy", idempotency.OperationConfirmOrder, payload)
	require.NoError(t, err)

	w := do(t, router, http.MethodPost, "/confirmOrder", string(payload), map[string]string{HeaderIdempotencyKey: "busy"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "still in progress")
	require.Empty(t, pipeline.confirms)
}

func TestConfirmOrder_FailedResultIsReplayed(t *testing.T) {
	pipeline := &fakePipeline{statusResult: domain.FailedStatus(domain.ErrCheckoutButtonNotFound)}
	repo := memory.NewIdempotencyRepository()
	router := NewRouter(NewHandler(pipeline, WithIdempotency(idempotency.NewGuard(repo, time.Hour, nil, nil))))

	body := `{"id":1,"pageUrl":"https://wolt.com/r"}`
	headers := map[string]string{HeaderIdempotencyKey: "retry-me"}
	do(t, router, http.MethodPost, "/confirmOrder", body, headers)
	w := do(t, router, http.MethodPost, "/confirmOrder", body, headers)

	require.Equal(t, "true", w.Header().Get(HeaderIdempotentReplay))
	require.Contains(t, w.Body.String(), "Checkout button not found")
	require.Len(t, pipeline.confirms, 1)

	record, err := repo.Get("retry-me")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, record.Status)
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		name      string
		extractor OrderExtractor
		body      string
		wantCode  int
		wantBody  string
	}{
		{
			name:     "disabled",
			body:     `{"text":"x"}`,
			wantCode: http.StatusNotFound,
			wantBody: `{"error":"order extraction is not enabled"}`,
		},
		{
			name:      "recognized",
			extractor: fakeExtractor{order: domain.Order{Restaurant: "Kitajska Vas", Meal: "Presneti piščanec"}},
			body:      `{"text":"I want presneti piščanec from kitajska vas"}`,
			wantCode:  http.StatusOK,
			wantBody:  `{"restaurant":"Kitajska Vas","meal":"Presneti piščanec"}`,
		},
		{
			name:      "not recognized",
			extractor: fakeExtractor{err: matcher.ErrOrderNotRecognized},
			body:      `{"text":"hello"}`,
			wantCode:  http.StatusUnprocessableEntity,
			wantBody:  `{"error":"could not recognize restaurant and meal"}`,
		},
		{
			name:      "llm unavailable",
			extractor: fakeExtractor{err: errors.Join(domain.ErrMatcherUnavailable, errors.New("503"))},
			body:      `{"text":"hello"}`,
			wantCode:  http.StatusServiceUnavailable,
			wantBody:  `{"error":"order extraction is unavailable"}`,
		},
		{
			name:      "malformed",
			extractor: fakeExtractor{},
			body:      `{`,
			wantCode:  http.StatusBadRequest,
			wantBody:  `{"error":"invalid request body"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.extractor != nil {
				opts = append(opts, WithExtractor(tt.extractor))
			}
			router := NewRouter(NewHandler(&fakePipeline{}, opts...))

			w := do(t, router, http.MethodPost, "/parseOrder", tt.body, nil)
			require.Equal(t, tt.wantCode, w.Code)
			require.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestRuns(t *testing.T) {
	runs := memory.NewRunRepository()
	timeline := memory.NewTimelineRepository()
	router := NewRouter(NewHandler(&fakePipeline{}, WithRunLog(runs, timeline)))

	started := time.Date(2026, 4, 18, 12, 0, 0, 0, time.UTC)
	mealID := 0
	require.NoError(t, runs.Create(domain.Run{
		ID:         "run-1",
		Kind:       domain.RunKindCreate,
		Status:     domain.RunStatusSucceeded,
		Restaurant: "kitajska",
		Meal:       "raca",
		MealID:     &mealID,
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
	}))
	require.NoError(t, runs.Create(domain.Run{ID: "run-2", Kind: domain.RunKindCheckout, Status: domain.RunStatusRunning, StartedAt: started.Add(time.Minute)}))
	require.NoError(t, timeline.Append(domain.TimelineEvent{RunID: "run-1", Type: "restaurant.resolved", Reason: "Kitajska Vas", Occurred: started.Add(5 * time.Second)}))

	w := do(t, router, http.MethodGet, "/runs/run-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "succeeded", got.Status)
	require.NotNil(t, got.MealID)
	require.Equal(t, 0, *got.MealID)
	require.Equal(t, int64(30000), got.DurationMs)
	require.Len(t, got.Timeline, 1)
	require.Equal(t, "restaurant.resolved", got.Timeline[0].Type)

	w = do(t, router, http.MethodGet, "/runs/missing", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/runs?limit=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list runListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, "run-2", list.Runs[0].ID)

	w = do(t, router, http.MethodGet, "/runs?limit=zero", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunsDisabled(t *testing.T) {
	router := NewRouter(NewHandler(&fakePipeline{}))

	w := do(t, router, http.MethodGet, "/runs/run-1", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreflight(t *testing.T) {
	router := NewRouter(NewHandler(&fakePipeline{}))

	w := do(t, router, http.MethodOptions, "/confirmOrder", "", map[string]string{"Origin": "http://localhost:3000"})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderIdempotencyKey)
}

type panickingPipeline struct{ fakePipeline }

func (p *panickingPipeline) CreateOrder(context.Context, domain.Order) domain.ConfirmOrder {
	panic("boom")
}

func TestRecoversFromHandlerPanic(t *testing.T) {
	router := NewRouter(NewHandler(&panickingPipeline{}))

	w := do(t, router, http.MethodPost, "/order", `{"restaurant":"a","meal":"b"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
