package browser

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// Config задаёт параметры браузерной сессии.
type Config struct {
	// ProfileDir: каталог постоянного профиля; в нём между вызовами живут cookie сайта.
	ProfileDir string
	Headless   bool
	// Bin: путь к Chromium; если пусто, launcher скачает или найдёт браузер сам.
	Bin            string
	ViewportWidth  int
	ViewportHeight int
	// NavigationTimeout ограничивает полные переходы по адресу. 0 снимает ограничение.
	NavigationTimeout time.Duration
}

// DefaultConfig возвращает параметры сессии по умолчанию.
func DefaultConfig() Config {
	return Config{
		ProfileDir:     "./tmp",
		Headless:       true,
		ViewportWidth:  1250,
		ViewportHeight: 1440,
	}
}

// Session: открытый профиль с одной страницей.
type Session interface {
	Page() Page
	// Close закрывает страницу и браузер. Повторный вызов безопасен.
	Close() error
}

// Launcher открывает сессии на постоянном профиле.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

// WithSession открывает сессию, выполняет fn и закрывает сессию на любом пути выхода,
// включая панику внутри fn.
func WithSession[T any](ctx context.Context, launcher Launcher, fn func(ctx context.Context, page Page) (T, error)) (T, error) {
	var zero T

	session, err := launcher.Open(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", domain.ErrSessionUnavailable, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.WithField("component", "browser").WithError(closeErr).Warn("Failed to close browser session")
		}
	}()

	return fn(ctx, session.Page())
}

// profileLock не даёт двум сессиям одновременно открыть один каталог профиля.
type profileLock struct {
	ch chan struct{}
}

func newProfileLock() *profileLock {
	return &profileLock{ch: make(chan struct{}, 1)}
}

func (l *profileLock) acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *profileLock) release() {
	select {
	case <-l.ch:
	default:
	}
}
