package domain

import (
	"net/url"
	"strings"
)

// StatusCode — итог оформления заказа, который видит клиент.
type StatusCode string

const (
	// StatusConfirmed — сайт показал статус заказа после отправки.
	StatusConfirmed StatusCode = "confirmed"
	// StatusError — заказ не оформлен.
	StatusError StatusCode = "error"
)

const (
	// MessageOrderPlaced — сообщение успешного оформления.
	MessageOrderPlaced = "Order placed"
	// MessageOrderNotPlaced — сообщение при любой ошибке оформления.
	MessageOrderNotPlaced = "Order not placed"
)

// Order — распознанный из голоса запрос: ресторан и блюдо в свободной форме.
type Order struct {
	Restaurant string `json:"restaurant"`
	Meal       string `json:"meal"`
}

// Validate проверяет, что обе строки непустые.
func (o Order) Validate() error {
	if strings.TrimSpace(o.Restaurant) == "" || strings.TrimSpace(o.Meal) == "" {
		return ErrOrderInputRequired
	}
	return nil
}

// ConfirmOrder — ссылка на найденное блюдо между вызовами createOrder и orderFood.
// ID == nil всегда означает ошибку; остальные поля тогда не имеют смысла.
type ConfirmOrder struct {
	ID        *int   `json:"id"`
	MealImage string `json:"mealImage,omitempty"`
	PageURL   string `json:"pageUrl"`
	// MealName — название блюда на момент захвата; по нему сверяется повторная локализация.
	MealName string `json:"mealName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewConfirmOrder собирает успешный ответ createOrder.
func NewConfirmOrder(id int, mealImage, pageURL, mealName string) ConfirmOrder {
	return ConfirmOrder{
		ID:        &id,
		MealImage: mealImage,
		PageURL:   pageURL,
		MealName:  mealName,
	}
}

// FailedConfirmOrder собирает ответ createOrder для ошибки err.
func FailedConfirmOrder(err error) ConfirmOrder {
	return ConfirmOrder{Error: PublicMessage(err)}
}

// Succeeded сообщает, что блюдо захвачено.
func (c ConfirmOrder) Succeeded() bool {
	return c.ID != nil && c.Error == ""
}

// Reference возвращает id и адрес страницы для повторной локализации блюда.
func (c ConfirmOrder) Reference() (int, string, error) {
	if c.ID == nil || strings.TrimSpace(c.PageURL) == "" {
		return 0, "", ErrConfirmReferenceRequired
	}
	u, err := url.Parse(strings.TrimSpace(c.PageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, "", ErrConfirmReferenceRequired
	}
	return *c.ID, u.String(), nil
}

// OrderStatus — итог orderFood. После создания не изменяется.
type OrderStatus struct {
	Status      StatusCode `json:"status"`
	Message     string     `json:"message"`
	WaitingTime string     `json:"waitingTime"`
	Error       string     `json:"error,omitempty"`
}

// ConfirmedStatus собирает успешный статус с текстом ожидания с сайта.
func ConfirmedStatus(waitingTime string) OrderStatus {
	return OrderStatus{
		Status:      StatusConfirmed,
		Message:     MessageOrderPlaced,
		WaitingTime: waitingTime,
	}
}

// FailedStatus собирает статус ошибки оформления.
func FailedStatus(err error) OrderStatus {
	return OrderStatus{
		Status:  StatusError,
		Message: MessageOrderNotPlaced,
		Error:   PublicMessage(err),
	}
}

// MatchCandidate — пара (id, name), которую видит внешний матчер.
type MatchCandidate struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
