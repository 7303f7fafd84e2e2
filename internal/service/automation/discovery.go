package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
)

// restaurantCandidate: карточка ресторана из одного сканирования. ID равен позиции в выдаче.
type restaurantCandidate struct {
	id   int
	name string
	url  string
	open bool
}

// mealCandidate: карточка блюда из одного сканирования. el живёт только внутри сессии.
type mealCandidate struct {
	id   int
	name string
	el   browser.Element
}

// openRestaurant находит ресторан среди открытых и переходит на его страницу.
func (p *Pipeline) openRestaurant(ctx context.Context, page browser.Page, run *runTracker, query string) error {
	if err := page.Navigate(ctx, p.site.RestaurantsURL); err != nil {
		return err
	}
	p.waitIdle(ctx, page, run)

	if _, err := page.WaitVisible(ctx, p.site.RestaurantCard, p.timeouts.Listing); err != nil {
		return fmt.Errorf("%w: no restaurant cards: %w", domain.ErrRestaurantNotFound, err)
	}

	all, err := p.scanRestaurants(ctx, page)
	if err != nil {
		return err
	}

	open := make([]restaurantCandidate, 0, len(all))
	candidates := make([]domain.MatchCandidate, 0, len(all))
	for _, r := range all {
		if !r.open {
			continue
		}
		open = append(open, r)
		candidates = append(candidates, domain.MatchCandidate{ID: r.id, Name: r.name})
	}
	run.logger.WithFields(log.Fields{
		"total": len(all),
		"open":  len(open),
	}).Debug("Restaurants scanned")

	id, ok := p.resolve(ctx, run, candidates, query)
	if !ok {
		return domain.ErrRestaurantNotFound
	}

	var chosen restaurantCandidate
	for _, r := range open {
		if r.id == id {
			chosen = r
			break
		}
	}
	if chosen.url == "" {
		return fmt.Errorf("%w: %q has no link", domain.ErrRestaurantNotFound, chosen.name)
	}

	if err := page.Navigate(ctx, chosen.url); err != nil {
		return err
	}
	p.waitIdle(ctx, page, run)

	run.event("restaurant.resolved", chosen.name)
	return nil
}

// selectMeal находит блюдо в меню открытой страницы ресторана.
func (p *Pipeline) selectMeal(ctx context.Context, page browser.Page, run *runTracker, query string) (mealCandidate, error) {
	p.waitIdle(ctx, page, run)

	if _, err := page.WaitVisible(ctx, p.site.MealCard, p.timeouts.Default); err != nil {
		return mealCandidate{}, fmt.Errorf("%w: no meal cards: %w", domain.ErrMealNotFound, err)
	}

	meals, err := p.scanMeals(ctx, page)
	if err != nil {
		return mealCandidate{}, err
	}

	candidates := make([]domain.MatchCandidate, 0, len(meals))
	for _, m := range meals {
		candidates = append(candidates, domain.MatchCandidate{ID: m.id, Name: m.name})
	}

	id, ok := p.resolve(ctx, run, candidates, query)
	if !ok {
		return mealCandidate{}, domain.ErrMealNotFound
	}

	meal := meals[id]
	run.event("meal.resolved", meal.name)
	return meal, nil
}

// resolve спрашивает матчер и проверяет ответ. Ошибка матчера, мусор в ответе,
// null и id вне переданного набора одинаково означают "не найдено".
func (p *Pipeline) resolve(ctx context.Context, run *runTracker, candidates []domain.MatchCandidate, query string) (int, bool) {
	if len(candidates) == 0 {
		p.recordMatch(metrics.MatchNone)
		return 0, false
	}

	if run.logger.Logger.IsLevelEnabled(log.DebugLevel) {
		run.logger.WithFields(log.Fields{
			"query":      query,
			"candidates": candidatesJSON(candidates),
		}).Debug("Asking matcher")
	}

	mctx, cancel := context.WithTimeout(ctx, p.matcherBudget)
	defer cancel()

	raw, err := p.matcher.Match(mctx, candidates, query)
	if err != nil {
		p.recordMatch(metrics.MatchError)
		run.logger.WithError(err).Warn("Matcher call failed, treating as no match")
		return 0, false
	}

	id, err := matcher.ParseResponse(raw)
	if err != nil {
		p.recordMatch(metrics.MatchInvalid)
		run.logger.WithField("response", raw).Warn("Matcher returned unparsable answer")
		return 0, false
	}
	if id == nil {
		p.recordMatch(metrics.MatchNone)
		return 0, false
	}

	for _, c := range candidates {
		if c.ID == *id {
			p.recordMatch(metrics.MatchFound)
			return *id, true
		}
	}

	p.recordMatch(metrics.MatchInvalid)
	run.logger.WithField("id", *id).Warn("Matcher returned id outside the candidate set")
	return 0, false
}

func (p *Pipeline) recordMatch(result string) {
	if p.metrics != nil {
		p.metrics.RecordMatcherResult(result)
	}
}

// waitIdle ждёт тишины в сети. Сайт держит фоновые запросы, поэтому таймаут не фатален:
// дальше всё равно ждём конкретные элементы.
func (p *Pipeline) waitIdle(ctx context.Context, page browser.Page, run *runTracker) {
	if err := page.WaitIdle(ctx, p.timeouts.Default); err != nil {
		run.logger.WithError(err).Debug("Network did not become idle")
	}
}

func (p *Pipeline) scanRestaurants(ctx context.Context, page browser.Page) ([]restaurantCandidate, error) {
	cards, err := page.FindAll(ctx, p.site.RestaurantCard)
	if err != nil {
		return nil, fmt.Errorf("list restaurant cards: %w", err)
	}

	out := make([]restaurantCandidate, len(cards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scrapeLimit)
	for i, card := range cards {
		g.Go(func() error {
			r := restaurantCandidate{id: i}

			name, err := childText(gctx, card, p.site.RestaurantName)
			if err != nil {
				return fmt.Errorf("restaurant card %d: %w", i, err)
			}
			r.name = name

			if link, ok, err := card.Find(gctx, p.site.RestaurantLink); err != nil {
				return fmt.Errorf("restaurant card %d link: %w", i, err)
			} else if ok {
				if r.url, err = link.Property(gctx, "href"); err != nil {
					return fmt.Errorf("restaurant card %d href: %w", i, err)
				}
			}

			texts, err := card.Texts(gctx, p.site.OpenMarker)
			if err != nil {
				return fmt.Errorf("restaurant card %d markers: %w", i, err)
			}
			for _, text := range texts {
				if strings.TrimSpace(text) == p.site.OpenMarkerText {
					r.open = true
					break
				}
			}

			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) scanMeals(ctx context.Context, page browser.Page) ([]mealCandidate, error) {
	cards, err := page.FindAll(ctx, p.site.MealCard)
	if err != nil {
		return nil, fmt.Errorf("list meal cards: %w", err)
	}

	out := make([]mealCandidate, len(cards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scrapeLimit)
	for i, card := range cards {
		g.Go(func() error {
			name, err := childText(gctx, card, p.site.MealName)
			if err != nil {
				return fmt.Errorf("meal card %d: %w", i, err)
			}
			out[i] = mealCandidate{id: i, name: normalizeMealName(name), el: card}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func childText(ctx context.Context, el browser.Element, selector string) (string, error) {
	child, ok, err := el.Find(ctx, selector)
	if err != nil || !ok {
		return "", err
	}
	text, err := child.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// normalizeMealName приводит название к виду, в котором его видит матчер и ConfirmOrder.
func normalizeMealName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// candidatesJSON используется только в логах.
func candidatesJSON(candidates []domain.MatchCandidate) string {
	b, err := json.Marshal(candidates)
	if err != nil {
		return ""
	}
	return string(b)
}
