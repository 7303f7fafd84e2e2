package automation_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser/browsertest"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
)

const (
	kitajskaURL = "https://wolt.com/en/svn/ljubljana/restaurant/kitajska-vas"
	foculusURL  = "https://wolt.com/en/svn/ljubljana/restaurant/foculus"
	hoodURL     = "https://wolt.com/en/svn/ljubljana/restaurant/hood-burger"
	googleURL   = "https://accounts.google.com/signin"
	returnURL   = "https://wolt.com/en/discovery?login=done"
	testEmail   = "user@example.com"
	testPass    = "secret"
	waitingText = "25-35 min"
)

var defaultMenu = []string{"Pekinška raca", "Presneti piščanec", "Ocvrti riž z zelenjavo"}

type stubMatcher struct {
	mu      sync.Mutex
	respond func(candidates []domain.MatchCandidate, query string) (string, error)
	calls   [][]domain.MatchCandidate
}

// byName отвечает id кандидата с тем же названием без учёта регистра.
func byName(candidates []domain.MatchCandidate, query string) (string, error) {
	for _, c := range candidates {
		if strings.EqualFold(c.Name, query) {
			return fmt.Sprintf(`{"id": %d}`, c.ID), nil
		}
	}
	return `{"id": null}`, nil
}

func (m *stubMatcher) Match(_ context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]domain.MatchCandidate(nil), candidates...))
	respond := m.respond
	m.mu.Unlock()
	return respond(candidates, query)
}

func (m *stubMatcher) Calls() [][]domain.MatchCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]domain.MatchCandidate(nil), m.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	events []*messaging.PipelineEvent
}

func (p *recordingPublisher) PublishEvent(topic, key string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.events = append(p.events, event.(*messaging.PipelineEvent))
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []messaging.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]messaging.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

type fixture struct {
	t        *testing.T
	site     automation.Site
	browser  *browsertest.Browser
	matcher  *stubMatcher
	runs     domain.RunRepository
	timeline domain.TimelineRepository
	events   *recordingPublisher

	mu     sync.Mutex
	sleeps []time.Duration

	consentAccept *browsertest.Node
	mealCards     []*browsertest.Node
	mealImages    []*browsertest.Node
	submit        *browsertest.Node
	cart          *browsertest.Node
	send          *browsertest.Node
	status        *browsertest.Node

	emailInput    *browsertest.Node
	passwordInput *browsertest.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		site:     automation.DefaultSite(),
		browser:  browsertest.New(),
		matcher:  &stubMatcher{respond: byName},
		runs:     memory.NewRunRepository(),
		timeline: memory.NewTimelineRepository(),
		events:   &recordingPublisher{},
	}

	f.routeSignedInLanding()
	f.browser.Route(f.site.RestaurantsURL, browsertest.El("main", "",
		f.restaurantCard("Kitajska Vas", kitajskaURL, true),
		f.restaurantCard("Pizzeria Foculus", foculusURL, false),
		f.restaurantCard("Hood Burger", hoodURL, true),
	))
	f.routeMenu(kitajskaURL, defaultMenu...)
	f.routeCheckout(kitajskaURL, 0)
	return f
}

func (f *fixture) pipeline(opts ...automation.Option) *automation.Pipeline {
	logger := log.New()
	logger.SetOutput(io.Discard)

	base := []automation.Option{
		automation.WithSleeper(f.sleep),
		automation.WithCredentials(automation.Credentials{Email: testEmail, Password: testPass}),
		automation.WithRunRepository(f.runs),
		automation.WithTimeline(f.timeline),
		automation.WithPublisher(f.events),
		automation.WithMetrics(metrics.NewPipelineMetricsWithRegisterer(prometheus.NewRegistry())),
		automation.WithLogger(log.NewEntry(logger)),
	}
	return automation.New(f.browser, f.matcher, append(base, opts...)...)
}

func (f *fixture) sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	return nil
}

func (f *fixture) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func (f *fixture) routeSignedInLanding() {
	f.consentAccept = browsertest.El(f.site.ConsentAccept, "Accept")
	f.browser.Route(f.site.LandingURL, browsertest.El("body", "",
		browsertest.El(f.site.ConsentOverlay, "", f.consentAccept),
		browsertest.El(f.site.SignedInMarker, ""),
	))
}

// routeSignedOutLanding строит цепочку входа: лендинг → провайдер → возврат на сайт.
func (f *fixture) routeSignedOutLanding() {
	provider := browsertest.El(f.site.ProviderButton, f.site.ProviderText)
	provider.OnClick = func(p *browsertest.Page) { p.Goto(googleURL) }

	modal := browsertest.El(f.site.LoginModal, "", provider)
	modal.Hidden = true

	login := browsertest.El(f.site.LoginButton, f.site.LoginButtonText)
	login.OnClick = func(*browsertest.Page) { f.browser.Show(modal) }

	f.browser.Route(f.site.LandingURL, browsertest.El("body", "", login, modal))

	f.emailInput = browsertest.El(f.site.EmailInput, "")
	f.passwordInput = browsertest.El(f.site.PasswordInput, "")
	passwordNext := browsertest.El(f.site.PasswordNext, "Next")
	passwordNext.OnClick = func(p *browsertest.Page) { p.Goto(returnURL) }

	f.browser.Route(googleURL, browsertest.El("body", "",
		f.emailInput,
		browsertest.El(f.site.EmailNext, "Next"),
		f.passwordInput,
		passwordNext,
	))
	f.browser.Route(returnURL, browsertest.El("body", "", browsertest.El(f.site.SignedInMarker, "")))
}

func (f *fixture) restaurantCard(name, url string, open bool) *browsertest.Node {
	marker := "Closed"
	if open {
		marker = f.site.OpenMarkerText
	}
	return browsertest.El(f.site.RestaurantCard, "",
		browsertest.El(f.site.RestaurantName, name),
		browsertest.El(f.site.RestaurantLink, "").WithProp("href", url),
		browsertest.El(f.site.OpenMarker, "20-30"),
		browsertest.El(f.site.OpenMarker, marker),
	)
}

// routeMenu публикует меню ресторана: карточки с миниатюрами, модалку и корзину.
func (f *fixture) routeMenu(url string, names ...string) {
	f.submit = browsertest.El(f.site.ProductSubmit, "Add to order")
	f.submit.Hidden = true
	f.cart = browsertest.El(f.site.CartButton, "View order")
	f.cart.Hidden = true
	f.submit.OnClick = func(*browsertest.Page) { f.browser.Show(f.cart) }

	f.mealCards = nil
	f.mealImages = nil
	children := make([]*browsertest.Node, 0, len(names)+2)
	for _, name := range names {
		img := browsertest.El(f.site.MealImage, "")
		img.OnClick = func(*browsertest.Page) { f.browser.Show(f.submit) }
		card := browsertest.El(f.site.MealCard, "",
			browsertest.El(f.site.MealName, "  "+name+" "),
			img,
		)
		card.Image = []byte("card:" + name)
		f.mealCards = append(f.mealCards, card)
		f.mealImages = append(f.mealImages, img)
		children = append(children, card)
	}
	children = append(children, f.submit, f.cart)
	f.browser.Route(url, browsertest.El("main", "", children...))
}

// routeCheckout публикует страницу оформления. Статус появляется после клика по кнопке,
// начиная с попытки ожидания номер statusDelay+1.
func (f *fixture) routeCheckout(url string, statusDelay int) {
	f.status = browsertest.El(f.site.OrderStatus, "",
		browsertest.El("span", " "+waitingText+" "),
		browsertest.El("span", "Order received"),
	)
	f.status.Hidden = true
	f.status.AppearAfter = statusDelay

	f.send = browsertest.El(f.site.SendOrderButton, "Send order")
	f.send.OnClick = func(*browsertest.Page) { f.browser.Show(f.status) }

	f.browser.Route(url+f.site.CheckoutSuffix, browsertest.El("main", "", f.send, f.status))
}

func (f *fixture) timelineTypes(runID string) []string {
	f.t.Helper()
	events, err := f.timeline.List(runID)
	if err != nil {
		f.t.Fatalf("list timeline: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func withRunID(id string) context.Context {
	return automation.ContextWithRunID(context.Background(), id)
}
