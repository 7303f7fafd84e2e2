package browser

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// RodLauncher запускает Chromium через go-rod на постоянном профиле.
type RodLauncher struct {
	cfg    Config
	lock   *profileLock
	logger *log.Entry
}

// NewRodLauncher создаёт лаунчер. Все сессии одного лаунчера используют один профиль
// и открываются строго по очереди.
func NewRodLauncher(cfg Config, logger *log.Entry) *RodLauncher {
	if logger == nil {
		logger = log.WithField("component", "browser")
	}
	return &RodLauncher{cfg: cfg, lock: newProfileLock(), logger: logger}
}

// Open запускает браузер, подключается к нему и открывает пустую страницу.
func (l *RodLauncher) Open(ctx context.Context) (Session, error) {
	if err := l.lock.acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire profile %s: %w", l.cfg.ProfileDir, err)
	}

	lnch := launcher.New().
		UserDataDir(l.cfg.ProfileDir).
		Headless(l.cfg.Headless).
		Set(flags.Flag("disable-dev-shm-usage"))
	if l.cfg.Bin != "" {
		lnch = lnch.Bin(l.cfg.Bin)
	}

	controlURL, err := lnch.Launch()
	if err != nil {
		l.lock.release()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lnch.Kill()
		l.lock.release()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		lnch.Kill()
		l.lock.release()
		return nil, fmt.Errorf("open page: %w", err)
	}

	if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             l.cfg.ViewportWidth,
			Height:            l.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			l.logger.WithError(err).Warn("Failed to set viewport")
		}
	}

	l.logger.WithField("profile", l.cfg.ProfileDir).Debug("Browser session opened")

	return &rodSession{
		browser:  b,
		launcher: lnch,
		page:     &rodPage{page: page, navTimeout: l.cfg.NavigationTimeout},
		release:  l.lock.release,
	}, nil
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rodPage
	release  func()

	once sync.Once
	err  error
}

func (s *rodSession) Page() Page {
	return s.page
}

// Close не вызывает launcher.Cleanup: он удалил бы каталог профиля вместе с cookie.
func (s *rodSession) Close() error {
	s.once.Do(func() {
		defer s.release()
		s.page.stopWatching()
		_ = s.page.page.Close()
		s.err = s.browser.Close()
		s.launcher.Kill()
	})
	return s.err
}

type rodPage struct {
	page       *rod.Page
	navTimeout time.Duration

	mu       sync.Mutex
	idle     func()
	stopIdle context.CancelFunc
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	p.watchRequests(ctx)

	page := p.page.Context(ctx)
	if p.navTimeout > 0 {
		page = page.Timeout(p.navTimeout)
		defer page.CancelTimeout()
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrNavigation, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait load %s: %v", domain.ErrNavigation, url, err)
	}
	return nil
}

// networkQuiet: сколько страница должна простоять без новых запросов, чтобы сеть считалась свободной.
const networkQuiet = 500 * time.Millisecond

// watchRequests подписывается на сетевые события до перехода, чтобы WaitIdle учёл
// и запросы, которые страница начала во время загрузки. Предыдущая подписка снимается.
func (p *rodPage) watchRequests(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	wait := p.page.Context(watchCtx).WaitRequestIdle(networkQuiet, nil, nil, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopIdle != nil {
		p.stopIdle()
	}
	p.idle, p.stopIdle = wait, cancel
}

func (p *rodPage) takeIdleWaiter(ctx context.Context) (func(), context.CancelFunc) {
	p.mu.Lock()
	wait, stop := p.idle, p.stopIdle
	p.idle, p.stopIdle = nil, nil
	p.mu.Unlock()

	if wait == nil {
		watchCtx, cancel := context.WithCancel(ctx)
		wait, stop = p.page.Context(watchCtx).WaitRequestIdle(networkQuiet, nil, nil, nil), cancel
	}
	return wait, stop
}

// WaitIdle ждёт networkQuiet без незавершённых запросов. Картинки, шрифты, медиа
// и долгоживущие соединения (websocket, event-stream) не учитываются.
// timeout <= 0 снимает ограничение.
func (p *rodPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	wait, stop := p.takeIdleWaiter(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait network idle: %w", err)
		}
		return nil
	case <-ctx.Done():
		stop()
		<-done
		return fmt.Errorf("wait network idle: %w", ctx.Err())
	case <-expired:
		stop()
		<-done
		return fmt.Errorf("wait network idle: %w", context.DeadlineExceeded)
	}
}

// stopWatching снимает подписку, оставшуюся от перехода без WaitIdle.
func (p *rodPage) stopWatching() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopIdle != nil {
		p.stopIdle()
	}
	p.idle, p.stopIdle = nil, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Find(ctx context.Context, selector string) (Element, bool, error) {
	ok, el, err := p.page.Context(ctx).Has(selector)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rodElement{el: el}, true, nil
}

func (p *rodPage) FindAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrElementNotFound, selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("%w: %s not visible: %v", domain.ErrElementNotFound, selector, err)
	}
	return &rodElement{el: el.Context(ctx)}, nil
}

func (p *rodPage) WaitText(ctx context.Context, selector, text string, timeout time.Duration) (Element, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	el, err := page.ElementR(selector, `^\s*`+regexp.QuoteMeta(text)+`\s*$`)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", domain.ErrElementNotFound, selector, text, err)
	}
	return &rodElement{el: el.Context(ctx)}, nil
}

func (p *rodPage) WaitURLContains(ctx context.Context, fragment string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	if err := page.Wait(rod.Eval(`(f) => window.location.href.includes(f)`, fragment)); err != nil {
		return fmt.Errorf("%w: url does not contain %q: %v", domain.ErrNavigation, fragment, err)
	}
	return nil
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Property(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Property(name)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (e *rodElement) Find(ctx context.Context, selector string) (Element, bool, error) {
	ok, el, err := e.el.Context(ctx).Has(selector)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rodElement{el: el}, true, nil
}

func (e *rodElement) Texts(ctx context.Context, selector string) ([]string, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (e *rodElement) FirstChildText(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.firstChild ? this.firstChild.textContent : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	return e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}
