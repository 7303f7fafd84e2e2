// Package browser управляет браузерными сессиями для автоматизации сайта доставки.
//
// Пайплайн работает только через интерфейсы Page и Element: реализация на go-rod
// живёт в rod.go, фейковая страница для тестов лежит в пакете browsertest.
package browser

import (
	"context"
	"time"
)

// Page: одна открытая вкладка. Элементы, полученные со страницы, действительны
// только пока страница не ушла на другой адрес.
type Page interface {
	// Navigate переходит по адресу и ждёт события load.
	Navigate(ctx context.Context, url string) error
	// WaitIdle ждёт сетевого простоя: запросы, начатые с последнего Navigate, завершены
	// и новых нет в течение короткого окна.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	// URL возвращает текущий адрес страницы.
	URL(ctx context.Context) (string, error)
	// Find ищет первый элемент по селектору без ожидания.
	Find(ctx context.Context, selector string) (Element, bool, error)
	// FindAll возвращает все элементы по селектору без ожидания.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// WaitVisible ждёт появления видимого элемента.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// WaitText ждёт элемент по селектору, текст которого совпадает с text.
	WaitText(ctx context.Context, selector, text string, timeout time.Duration) (Element, error)
	// WaitURLContains ждёт, пока адрес страницы не будет содержать fragment.
	WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error
}

// Element: ссылка на узел DOM живой страницы.
type Element interface {
	Click(ctx context.Context) error
	Input(ctx context.Context, text string) error
	// Text возвращает innerText элемента.
	Text(ctx context.Context) (string, error)
	// Property возвращает строковое DOM-свойство (например, href).
	Property(ctx context.Context, name string) (string, error)
	// Find ищет первый потомок по селектору.
	Find(ctx context.Context, selector string) (Element, bool, error)
	// Texts возвращает innerText всех потомков по селектору.
	Texts(ctx context.Context, selector string) ([]string, error)
	// FirstChildText возвращает textContent первого дочернего узла.
	FirstChildText(ctx context.Context) (string, error)
	// Screenshot снимает PNG области элемента.
	Screenshot(ctx context.Context) ([]byte, error)
}
