package domain

import "errors"

var (
	// ErrOrderInputRequired — в заказе не указан ресторан или блюдо.
	ErrOrderInputRequired = errors.New("restaurant and meal are required")
	// ErrConfirmReferenceRequired — в ConfirmOrder нет id или pageUrl, повторно найти блюдо нельзя.
	ErrConfirmReferenceRequired = errors.New("no id or pageUrl provided")
	// ErrRestaurantNotFound — среди открытых ресторанов нет подходящего.
	ErrRestaurantNotFound = errors.New("restaurant not found")
	// ErrMealNotFound — блюдо не найдено в меню (при поиске или повторной локализации).
	ErrMealNotFound = errors.New("meal not found")
	// ErrMealImageNotFound — у карточки блюда нет миниатюры, модалку открыть нечем.
	ErrMealImageNotFound = errors.New("meal image not found")
	// ErrCheckoutButtonNotFound — на странице оформления нет кнопки отправки заказа.
	ErrCheckoutButtonNotFound = errors.New("checkout button not found")
	// ErrAuthentication — не удалось войти в аккаунт сайта доставки.
	ErrAuthentication = errors.New("authentication failed")
	// ErrCredentialsMissing — логин или пароль провайдера не настроены.
	ErrCredentialsMissing = errors.New("login credentials are not configured")
	// ErrElementNotFound — элемент не появился на странице за отведённое время.
	ErrElementNotFound = errors.New("element not found")
	// ErrNavigation — переход на страницу завершился ошибкой.
	ErrNavigation = errors.New("navigation failed")
	// ErrSessionUnavailable — браузерную сессию не удалось открыть.
	ErrSessionUnavailable = errors.New("browser session unavailable")
	// ErrMatcherUnavailable — внешний матчер не ответил; для пайплайна это равно "нет совпадения".
	ErrMatcherUnavailable = errors.New("matcher unavailable")
	// ErrCircuitOpen — circuit breaker матчера разомкнут.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRunNotFound возвращается, если запуск пайплайна не найден в репозитории.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunAlreadyExists — запуск с таким ID уже сохранён.
	ErrRunAlreadyExists = errors.New("run already exists")
	// ErrTimelineEventInvalid — у события таймлайна нет run id или типа.
	ErrTimelineEventInvalid = errors.New("timeline event requires run id and type")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использовался с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использовался с другим запросом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress — запрос с этим ключом ещё выполняется.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is still in progress")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// publicMessages — тексты ошибок, которые видит голосовой клиент. Клиент различает
// "Restaurant not found" и "Meal not found", чтобы переспросить нужное.
var publicMessages = []struct {
	err error
	msg string
}{
	{ErrRestaurantNotFound, "Restaurant not found"},
	{ErrMealNotFound, "Meal not found"},
	{ErrMealImageNotFound, "Meal image not found"},
	{ErrCheckoutButtonNotFound, "Checkout button not found"},
	{ErrConfirmReferenceRequired, "No id or pageUrl provided"},
}

// PublicMessage возвращает текст ошибки для ответа клиенту.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, pm := range publicMessages {
		if errors.Is(err, pm.err) {
			return pm.msg
		}
	}
	return err.Error()
}

// IsResolutionFailure сообщает, что ошибка — ожидаемый "не найдено", а не сбой страницы.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, ErrRestaurantNotFound) || errors.Is(err, ErrMealNotFound)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
