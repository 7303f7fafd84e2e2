// Package automation реализует пайплайн оформления заказа на сайте доставки:
// сессия → вход → поиск ресторана → поиск блюда → захват подтверждения, и отдельным
// вызовом корзина → оформление → статус.
package automation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
)

const defaultScrapeLimit = 8

// Credentials: учётные данные провайдера входа.
type Credentials struct {
	Email    string
	Password string
}

// Pipeline выполняет оба вызова пайплайна. Каждый вызов открывает собственную сессию
// и закрывает её на любом пути выхода.
type Pipeline struct {
	launcher    browser.Launcher
	matcher     domain.Matcher
	site        Site
	timeouts    Timeouts
	credentials Credentials

	runs      domain.RunRepository
	timeline  domain.TimelineRepository
	publisher domain.EventPublisher
	metrics   *metrics.PipelineMetrics
	logger    *log.Entry

	scrapeLimit   int
	matcherBudget time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithSite подменяет контракт сайта.
func WithSite(site Site) Option {
	return func(p *Pipeline) { p.site = site }
}

// WithTimeouts подменяет ограничения ожиданий.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) { p.timeouts = t }
}

// WithCredentials задаёт логин и пароль провайдера входа.
func WithCredentials(c Credentials) Option {
	return func(p *Pipeline) { p.credentials = c }
}

// WithRunRepository включает журнал запусков.
func WithRunRepository(runs domain.RunRepository) Option {
	return func(p *Pipeline) { p.runs = runs }
}

// WithTimeline включает запись событий шагов.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(p *Pipeline) { p.timeline = timeline }
}

// WithPublisher включает публикацию событий в брокер.
func WithPublisher(publisher domain.EventPublisher) Option {
	return func(p *Pipeline) { p.publisher = publisher }
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSleeper подменяет паузы (в тестах паузы не нужны).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// WithScrapeLimit ограничивает число карточек, читаемых параллельно.
func WithScrapeLimit(limit int) Option {
	return func(p *Pipeline) {
		if limit > 0 {
			p.scrapeLimit = limit
		}
	}
}

// WithMatcherBudget ограничивает время одного обращения к матчеру.
func WithMatcherBudget(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.matcherBudget = d
		}
	}
}

// New создаёт пайплайн.
func New(launcher browser.Launcher, matcher domain.Matcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		launcher:      launcher,
		matcher:       matcher,
		site:          DefaultSite(),
		timeouts:      DefaultTimeouts(),
		logger:        log.WithField("component", "automation"),
		scrapeLimit:   defaultScrapeLimit,
		matcherBudget: 30 * time.Second,
		sleep:         sleepContext,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type runIDKey struct{}

// ContextWithRunID задаёт идентификатор запуска, под которым вызов попадёт в журнал.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext возвращает идентификатор запуска из контекста.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// CreateOrder находит ресторан и блюдо и возвращает снимок карточки со ссылкой для
// последующего оформления. Ошибки не возвращаются: они попадают в поле Error.
// Отмена ctx вызывающей стороной не прерывает начатый запуск.
func (p *Pipeline) CreateOrder(ctx context.Context, order domain.Order) domain.ConfirmOrder {
	ctx = context.WithoutCancel(ctx)
	run := p.startRun(ctx, domain.RunKindCreate, func(r *domain.Run) {
		r.Restaurant = order.Restaurant
		r.Meal = order.Meal
	})

	if err := order.Validate(); err != nil {
		run.finish(err)
		return domain.FailedConfirmOrder(err)
	}

	confirm, err := withSession(ctx, p.launcher, run, func(ctx context.Context, page browser.Page) (domain.ConfirmOrder, error) {
		if err := run.step(domain.StepAuth, func() error {
			return p.ensureAuthenticated(ctx, page, run)
		}); err != nil {
			return domain.ConfirmOrder{}, err
		}

		if err := run.step(domain.StepRestaurant, func() error {
			return p.openRestaurant(ctx, page, run, order.Restaurant)
		}); err != nil {
			return domain.ConfirmOrder{}, err
		}

		var meal mealCandidate
		if err := run.step(domain.StepMeal, func() error {
			var err error
			meal, err = p.selectMeal(ctx, page, run, order.Meal)
			return err
		}); err != nil {
			return domain.ConfirmOrder{}, err
		}

		var confirm domain.ConfirmOrder
		err := run.step(domain.StepCapture, func() error {
			var err error
			confirm, err = p.capture(ctx, page, run, meal)
			return err
		})
		return confirm, err
	})
	if err != nil {
		run.finish(err)
		return domain.FailedConfirmOrder(err)
	}

	run.record(func(r *domain.Run) {
		r.MealID = confirm.ID
		r.PageURL = confirm.PageURL
	})
	run.finish(nil)
	return confirm
}

// OrderFood повторно находит захваченное блюдо, кладёт его в корзину и оформляет заказ.
// Кнопка отправки заказа нажимается не более одного раза за вызов.
func (p *Pipeline) OrderFood(ctx context.Context, confirm domain.ConfirmOrder) domain.OrderStatus {
	ctx = context.WithoutCancel(ctx)
	run := p.startRun(ctx, domain.RunKindCheckout, func(r *domain.Run) {
		r.MealID = confirm.ID
		r.PageURL = confirm.PageURL
		r.Meal = confirm.MealName
	})

	mealID, pageURL, err := confirm.Reference()
	if err != nil {
		run.finish(err)
		return domain.FailedStatus(err)
	}

	status, err := withSession(ctx, p.launcher, run, func(ctx context.Context, page browser.Page) (domain.OrderStatus, error) {
		if err := run.step(domain.StepAuth, func() error {
			return p.ensureAuthenticated(ctx, page, run)
		}); err != nil {
			return domain.OrderStatus{}, err
		}

		if err := run.step(domain.StepCart, func() error {
			return p.addToCart(ctx, page, run, pageURL, mealID, confirm.MealName)
		}); err != nil {
			return domain.OrderStatus{}, err
		}

		var waitingTime string
		err := run.step(domain.StepCheckout, func() error {
			var err error
			waitingTime, err = p.submitOrder(ctx, page, run, pageURL)
			return err
		})
		if err != nil {
			return domain.OrderStatus{}, err
		}
		return domain.ConfirmedStatus(waitingTime), nil
	})
	if err != nil {
		run.finish(err)
		return domain.FailedStatus(err)
	}

	run.finish(nil)
	return status
}

// withSession открывает сессию и превращает панику внутри запуска в ошибку,
// чтобы клиент всегда получил корректный ответ.
func withSession[T any](ctx context.Context, launcher browser.Launcher, run *runTracker, fn func(ctx context.Context, page browser.Page) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			run.logger.WithField("panic", r).Error("Pipeline run panicked")
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	var opened bool
	result, err = browser.WithSession(ctx, launcher, func(ctx context.Context, page browser.Page) (T, error) {
		opened = true
		run.event("session.opened", "")
		return fn(ctx, page)
	})
	if err != nil && !opened {
		run.stepFailed(domain.StepSession, err)
	}
	return result, err
}

func (p *Pipeline) consentDelay() time.Duration {
	lo, hi := p.timeouts.ConsentDelayMin, p.timeouts.ConsentDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunID(ctx context.Context) string {
	if id, ok := RunIDFromContext(ctx); ok {
		return id
	}
	return uuid.NewString()
}
