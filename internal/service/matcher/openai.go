package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

const defaultModel = openai.GPT3Dot5Turbo

// OpenAIConfig описывает подключение к LLM.
type OpenAIConfig struct {
	APIKey string
	// BaseURL позволяет направить запросы в совместимый прокси; по умолчанию api.openai.com.
	BaseURL string
	Model   string
}

// OpenAIMatcher спрашивает у LLM, какой кандидат соответствует произнесённому названию.
type OpenAIMatcher struct {
	client *openai.Client
	model  string
	logger *log.Entry
}

// NewOpenAI создаёт матчер поверх go-openai.
func NewOpenAI(cfg OpenAIConfig, logger *log.Entry) *OpenAIMatcher {
	if logger == nil {
		logger = log.WithField("component", "matcher-openai")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &OpenAIMatcher{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

func systemPrompt(query string) string {
	return fmt.Sprintf("Given the list of items below, determine the ID of the item closely matching the name provided: '%s'. "+
		"Return the ID in JSON format, for example, {\"id\": 10}. If a matching item is not found return {\"id\": null}. "+
		"Ensure to consider slight inaccuracies in the item name during the search.", query)
}

// Match отправляет кандидатов и запрос в chat completion и возвращает сырой текст ответа.
func (m *OpenAIMatcher) Match(ctx context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("marshal candidates: %w", err)
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		// go-openai отбрасывает нулевую температуру через omitempty.
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(query)},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMatcherUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", domain.ErrMatcherUnavailable)
	}

	content := resp.Choices[0].Message.Content
	m.logger.WithFields(log.Fields{
		"query":      query,
		"candidates": len(candidates),
		"answer":     content,
	}).Debug("Matcher answered")
	return content, nil
}
