package automation

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// capture снимает карточку блюда и запоминает, где её потом искать. В корзину ничего не кладёт.
func (p *Pipeline) capture(ctx context.Context, page browser.Page, run *runTracker, meal mealCandidate) (domain.ConfirmOrder, error) {
	png, err := meal.el.Screenshot(ctx)
	if err != nil {
		return domain.ConfirmOrder{}, fmt.Errorf("screenshot meal card: %w", err)
	}

	pageURL, err := page.URL(ctx)
	if err != nil {
		return domain.ConfirmOrder{}, fmt.Errorf("read page url: %w", err)
	}

	run.event("order.captured", meal.name)
	return domain.NewConfirmOrder(meal.id, base64.StdEncoding.EncodeToString(png), pageURL, meal.name), nil
}
