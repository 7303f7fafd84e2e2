package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// ErrOrderNotRecognized: из фразы не удалось выделить ресторан и блюдо.
var ErrOrderNotRecognized = errors.New("could not recognize restaurant and meal")

const extractPrompt = "From following string extract restaurant and meal. Return restaurant and meal in json format. " +
	"Return only json, nothing else. Example: {restaurant: 'Kitajska Vas', meal: 'Presneti piščanec'}."

// LLM часто отвечает "почти JSON" с одинарными кавычками и ключами без кавычек.
var (
	restaurantField = regexp.MustCompile(`(?i)["']?restaurant["']?\s*:\s*(?:"([^"]*)"|'([^']*)')`)
	mealField       = regexp.MustCompile(`(?i)["']?meal["']?\s*:\s*(?:"([^"]*)"|'([^']*)')`)
)

// OrderExtractor выделяет ресторан и блюдо из распознанной речи.
type OrderExtractor struct {
	client *openai.Client
	model  string
	logger *log.Entry
}

// NewOrderExtractor создаёт экстрактор поверх go-openai.
func NewOrderExtractor(cfg OpenAIConfig, logger *log.Entry) *OrderExtractor {
	m := NewOpenAI(cfg, logger)
	return &OrderExtractor{client: m.client, model: m.model, logger: m.logger}
}

// Extract возвращает заказ, найденный во фразе.
func (e *OrderExtractor) Extract(ctx context.Context, phrase string) (domain.Order, error) {
	if strings.TrimSpace(phrase) == "" {
		return domain.Order{}, ErrOrderNotRecognized
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractPrompt},
			{Role: openai.ChatMessageRoleUser, Content: phrase},
		},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrMatcherUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return domain.Order{}, fmt.Errorf("%w: empty completion", domain.ErrMatcherUnavailable)
	}

	content := resp.Choices[0].Message.Content
	order, err := ParseOrder(content)
	if err != nil {
		e.logger.WithField("answer", content).Warn("Could not parse extracted order")
		return domain.Order{}, err
	}
	return order, nil
}

// ParseOrder разбирает ответ экстрактора: сначала как JSON, затем по шаблону полей.
func ParseOrder(raw string) (domain.Order, error) {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var order domain.Order
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &order); err == nil {
			return cleanOrder(order)
		}
	}

	order.Restaurant = fieldValue(restaurantField, text)
	order.Meal = fieldValue(mealField, text)
	return cleanOrder(order)
}

func fieldValue(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func cleanOrder(order domain.Order) (domain.Order, error) {
	order.Restaurant = strings.TrimSpace(order.Restaurant)
	order.Meal = strings.TrimSpace(order.Meal)
	if order.Validate() != nil {
		return domain.Order{}, ErrOrderNotRecognized
	}
	return order, nil
}
