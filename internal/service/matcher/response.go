package matcher

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidResponse: ответ матчера не удалось разобрать.
var ErrInvalidResponse = errors.New("matcher response is not a JSON object with an id")

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseResponse извлекает id из ответа матчера. Поддерживаются {"id": 3}, {"id": "3"},
// {"id": null}, а также ответ, обёрнутый в markdown-блок или окружённый текстом.
// nil без ошибки означает, что матчер явно ответил "не найдено".
func ParseResponse(raw string) (*int, error) {
	text := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrInvalidResponse
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return nil, ErrInvalidResponse
	}
	rawID, ok := payload["id"]
	if !ok {
		return nil, ErrInvalidResponse
	}

	value := strings.TrimSpace(string(rawID))
	if value == "null" {
		return nil, nil
	}
	if unquoted, err := strconv.Unquote(value); err == nil {
		value = strings.TrimSpace(unquoted)
	}
	id, err := strconv.Atoi(value)
	if err != nil {
		return nil, ErrInvalidResponse
	}
	return &id, nil
}

// FormatResponse собирает ответ в формате внешнего матчера.
func FormatResponse(id *int) string {
	if id == nil {
		return `{"id": null}`
	}
	return `{"id": ` + strconv.Itoa(*id) + `}`
}
