package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser/browsertest"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
	"github.com/vladislavdragonenkov/voiceorder/internal/transport/httpapi"
)

const (
	restaurantURL = "https://wolt.com/en/svn/ljubljana/restaurant/kitajska-vas"
	waitingTime   = "25-35 min"
)

// OrderFlowTestSuite прогоняет оба вызова через HTTP API, настоящий пайплайн,
// офлайн-матчер и подменённый браузер.
type OrderFlowTestSuite struct {
	suite.Suite
	site    automation.Site
	browser *browsertest.Browser
	send    *browsertest.Node
	server  *httptest.Server
}

func (s *OrderFlowTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.site = automation.DefaultSite()
	s.browser = browsertest.New()
	s.routeSite()

	runs := memory.NewRunRepository()
	timeline := memory.NewTimelineRepository()
	m := metrics.NewPipelineMetricsWithRegisterer(prometheus.NewRegistry())

	pipeline := automation.New(s.browser, matcher.NewFuzzy(),
		automation.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		automation.WithRunRepository(runs),
		automation.WithTimeline(timeline),
		automation.WithMetrics(m),
		automation.WithLogger(logger),
	)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, m, logger)
	handler := httpapi.NewHandler(pipeline,
		httpapi.WithRunLog(runs, timeline),
		httpapi.WithIdempotency(guard),
		httpapi.WithLogger(logger),
	)
	s.server = httptest.NewServer(httpapi.NewRouter(handler))
}

func (s *OrderFlowTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *OrderFlowTestSuite) routeSite() {
	site := s.site
	s.browser.Route(site.LandingURL, browsertest.El("body", "", browsertest.El(site.SignedInMarker, "")))

	card := func(name, href, marker string) *browsertest.Node {
		return browsertest.El(site.RestaurantCard, "",
			browsertest.El(site.RestaurantName, name),
			browsertest.El(site.RestaurantLink, "").WithProp("href", href),
			browsertest.El(site.OpenMarker, marker),
		)
	}
	s.browser.Route(site.RestaurantsURL, browsertest.El("main", "",
		card("Pizzeria Foculus", "https://wolt.com/en/svn/ljubljana/restaurant/foculus", "Closed"),
		card("Kitajska Vas", restaurantURL, site.OpenMarkerText),
	))

	submit := browsertest.El(site.ProductSubmit, "Add to order")
	submit.Hidden = true
	cart := browsertest.El(site.CartButton, "View order")
	cart.Hidden = true
	submit.OnClick = func(*browsertest.Page) { s.browser.Show(cart) }

	menu := []*browsertest.Node{}
	for _, name := range []string{"Pekinška raca", "Presneti piščanec", "Ocvrti riž z zelenjavo"} {
		img := browsertest.El(site.MealImage, "")
		img.OnClick = func(*browsertest.Page) { s.browser.Show(submit) }
		c := browsertest.El(site.MealCard, "", browsertest.El(site.MealName, name), img)
		c.Image = []byte("card:" + name)
		menu = append(menu, c)
	}
	menu = append(menu, submit, cart)
	s.browser.Route(restaurantURL, browsertest.El("main", "", menu...))

	status := browsertest.El(site.OrderStatus, "", browsertest.El("span", waitingTime))
	status.Hidden = true
	s.send = browsertest.El(site.SendOrderButton, "Send order")
	s.send.OnClick = func(*browsertest.Page) { s.browser.Show(status) }
	s.browser.Route(restaurantURL+site.CheckoutSuffix, browsertest.El("main", "", s.send, status))
}

func (s *OrderFlowTestSuite) post(path string, body any, key string) (*http.Response, []byte) {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(raw))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, key)
	}
	return s.do(req)
}

func (s *OrderFlowTestSuite) get(path string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	s.Require().NoError(err)
	return s.do(req)
}

func (s *OrderFlowTestSuite) do(req *http.Request) (*http.Response, []byte) {
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, body
}

func (s *OrderFlowTestSuite) TestOrderAndConfirm() {
	resp, body := s.post("/order", domain.Order{Restaurant: "kitajska vas", Meal: "presneti piscanec"}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	createRunID := resp.Header.Get(httpapi.HeaderRunID)
	s.Require().NotEmpty(createRunID)

	var confirm domain.ConfirmOrder
	s.Require().NoError(json.Unmarshal(body, &confirm))
	s.Require().True(confirm.Succeeded(), "unexpected error: %s", confirm.Error)
	s.Equal(1, *confirm.ID)
	s.Equal(restaurantURL, confirm.PageURL)
	s.Equal("presneti piščanec", confirm.MealName)
	s.NotEmpty(confirm.MealImage)

	resp, body = s.post("/confirmOrder", confirm, "confirm-1")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var status domain.OrderStatus
	s.Require().NoError(json.Unmarshal(body, &status))
	s.Equal(domain.StatusConfirmed, status.Status)
	s.Equal(waitingTime, status.WaitingTime)

	// Повтор с тем же ключом не отправляет заказ второй раз.
	resp, replayed := s.post("/confirmOrder", confirm, "confirm-1")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal("true", resp.Header.Get(httpapi.HeaderIdempotentReplay))
	s.JSONEq(string(body), string(replayed))
	s.Equal(1, s.browser.Clicks(s.send))

	resp, body = s.get("/runs")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var list struct {
		Runs []struct {
			ID     string `json:"id"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"runs"`
	}
	s.Require().NoError(json.Unmarshal(body, &list))
	s.Require().Len(list.Runs, 2)
	s.Equal(string(domain.RunKindCheckout), list.Runs[0].Kind)
	s.Equal(createRunID, list.Runs[1].ID)

	resp, body = s.get("/runs/" + createRunID)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var run struct {
		Status   string `json:"status"`
		MealID   *int   `json:"mealId"`
		Timeline []struct {
			Type string `json:"type"`
		} `json:"timeline"`
	}
	s.Require().NoError(json.Unmarshal(body, &run))
	s.Equal(string(domain.RunStatusSucceeded), run.Status)
	s.Require().NotNil(run.MealID)
	s.Equal(1, *run.MealID)
	s.NotEmpty(run.Timeline)
	s.Equal("order.captured", run.Timeline[len(run.Timeline)-1].Type)
}

func (s *OrderFlowTestSuite) TestClosedRestaurantIsNotFound() {
	resp, body := s.post("/order", domain.Order{Restaurant: "Pizzeria Foculus", Meal: "Margherita"}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var confirm domain.ConfirmOrder
	s.Require().NoError(json.Unmarshal(body, &confirm))
	s.Nil(confirm.ID)
	s.Equal("Restaurant not found", confirm.Error)
	s.Equal(1, s.browser.Closed())
}

func (s *OrderFlowTestSuite) TestConfirmWithoutReference() {
	resp, body := s.post("/confirmOrder", map[string]any{"id": nil, "pageUrl": ""}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var status domain.OrderStatus
	s.Require().NoError(json.Unmarshal(body, &status))
	s.Equal(domain.StatusError, status.Status)
	s.NotEmpty(status.Error)
	s.Zero(s.browser.Opened())
}

func TestOrderFlowTestSuite(t *testing.T) {
	suite.Run(t, new(OrderFlowTestSuite))
}
