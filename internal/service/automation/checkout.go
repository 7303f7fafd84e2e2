package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// addToCart повторно находит блюдо на странице ресторана и кладёт его в корзину.
func (p *Pipeline) addToCart(ctx context.Context, page browser.Page, run *runTracker, pageURL string, mealID int, mealName string) error {
	if err := page.Navigate(ctx, pageURL); err != nil {
		return err
	}
	p.waitIdle(ctx, page, run)

	if _, err := page.WaitVisible(ctx, p.site.MealCard, p.timeouts.Listing); err != nil {
		return fmt.Errorf("%w: no meal cards: %w", domain.ErrMealNotFound, err)
	}

	meals, err := p.scanMeals(ctx, page)
	if err != nil {
		return err
	}

	meal, err := relocate(meals, mealID, mealName)
	if err != nil {
		return err
	}
	if meal.id != mealID {
		run.logger.WithFields(log.Fields{
			"captured_id": mealID,
			"current_id":  meal.id,
		}).Info("Meal moved since capture, relocated by name")
	}

	img, ok, err := meal.el.Find(ctx, p.site.MealImage)
	if err != nil {
		return fmt.Errorf("find meal image: %w", err)
	}
	if !ok {
		return domain.ErrMealImageNotFound
	}
	if err := img.Click(ctx); err != nil {
		return fmt.Errorf("open meal modal: %w", err)
	}

	submit, err := page.WaitVisible(ctx, p.site.ProductSubmit, p.timeouts.Modal)
	if err != nil {
		return fmt.Errorf("product modal: %w", err)
	}
	if err := submit.Click(ctx); err != nil {
		return fmt.Errorf("add to cart: %w", err)
	}

	if _, err := page.WaitVisible(ctx, p.site.CartButton, p.timeouts.Cart); err != nil {
		return fmt.Errorf("cart indicator: %w", err)
	}

	run.event("cart.added", meal.name)
	return nil
}

// relocate находит захваченное блюдо в свежем сканировании. Если название известно,
// карточка под тем же id должна его носить; иначе подходит единственная карточка с этим названием.
func relocate(meals []mealCandidate, mealID int, mealName string) (mealCandidate, error) {
	want := normalizeMealName(mealName)

	if mealID >= 0 && mealID < len(meals) {
		if want == "" || meals[mealID].name == want {
			return meals[mealID], nil
		}
	}
	if want == "" {
		return mealCandidate{}, fmt.Errorf("%w: id %d is out of range", domain.ErrMealNotFound, mealID)
	}

	var (
		found mealCandidate
		count int
	)
	for _, m := range meals {
		if m.name == want {
			found = m
			count++
		}
	}
	if count != 1 {
		return mealCandidate{}, fmt.Errorf("%w: %q matches %d cards", domain.ErrMealNotFound, want, count)
	}
	return found, nil
}

// submitOrder отправляет заказ и читает время ожидания. Кнопка отправки нажимается один раз;
// повторяется только ожидание статуса.
func (p *Pipeline) submitOrder(ctx context.Context, page browser.Page, run *runTracker, pageURL string) (string, error) {
	checkoutURL := strings.TrimRight(pageURL, "/") + p.site.CheckoutSuffix
	if err := page.Navigate(ctx, checkoutURL); err != nil {
		return "", err
	}
	p.waitIdle(ctx, page, run)

	send, err := page.WaitVisible(ctx, p.site.SendOrderButton, p.timeouts.Default)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrCheckoutButtonNotFound, err)
	}

	if err := send.Click(ctx); err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordCheckoutSubmission()
	}
	run.event("checkout.submitted", "")

	waitingTime, err := p.readWaitingTime(ctx, page, run)
	if err != nil {
		return "", err
	}

	run.event("order.confirmed", waitingTime)
	return waitingTime, nil
}

// statusTextPause: пауза перед повторным чтением статуса, показанного без текста.
const statusTextPause = 500 * time.Millisecond

// readWaitingTime ждёт статус заказа и читает время ожидания из его первого дочернего узла.
// Сайт может отрисовать статус раньше текста, поэтому пустой текст перечитывается, пока есть попытки.
// Заказ к этому моменту уже отправлен: если текст так и не появился, возвращается пустая строка.
func (p *Pipeline) readWaitingTime(ctx context.Context, page browser.Page, run *runTracker) (string, error) {
	attempts := max(p.timeouts.StatusAttempts, 1)

	var (
		shown   bool
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if shown {
			if err := p.sleep(ctx, statusTextPause); err != nil {
				break
			}
		}
		status, err := page.WaitVisible(ctx, p.site.OrderStatus, p.timeouts.Default)
		if err != nil {
			lastErr = err
			run.logger.WithError(err).WithField("attempt", attempt).Warn("Order status not shown yet")
			continue
		}
		shown = true

		text, err := status.FirstChildText(ctx)
		if err != nil {
			return "", fmt.Errorf("read waiting time: %w", err)
		}
		if waitingTime := strings.TrimSpace(text); waitingTime != "" {
			return waitingTime, nil
		}
		run.logger.WithField("attempt", attempt).Warn("Order status shown without waiting time")
	}

	if !shown {
		return "", fmt.Errorf("order status after submission: %w", lastErr)
	}
	run.logger.Warn("Order submitted, waiting time unknown")
	return "", nil
}
