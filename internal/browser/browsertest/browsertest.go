// Package browsertest содержит фейковый браузер для тестов пайплайна без Chromium.
//
// Страницы описываются деревом Node, привязанным к адресу. Селекторы не разбираются:
// узел отвечает на те строки, которые перечислены в его Selectors.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// Node: узел фейкового DOM.
type Node struct {
	Selectors []string
	Text      string
	Props     map[string]string
	Image     []byte
	Children  []*Node
	// Hidden скрывает узел от любых поисков, пока хук не откроет его через Show.
	Hidden bool
	// AppearAfter: сколько ожиданий WaitVisible узел пропускает, прежде чем появиться.
	AppearAfter int
	// OnClick вызывается при клике по узлу; browser-мьютекс в этот момент не удерживается.
	OnClick func(p *Page)

	clicks int
	inputs []string
	waits int
}

// El создаёт узел с одним селектором.
func El(selector, text string, children ...*Node) *Node {
	return &Node{Selectors: []string{selector}, Text: text, Children: children}
}

// WithProp задаёт DOM-свойство узла.
func (n *Node) WithProp(name, value string) *Node {
	if n.Props == nil {
		n.Props = make(map[string]string)
	}
	n.Props[name] = value
	return n
}

// Also добавляет узлу ещё один селектор.
func (n *Node) Also(selector string) *Node {
	n.Selectors = append(n.Selectors, selector)
	return n
}

func (n *Node) matches(selector string) bool {
	for _, s := range n.Selectors {
		if s == selector {
			return true
		}
	}
	return false
}

// Browser: фейковый лаунчер и одновременно хранилище маршрутов.
type Browser struct {
	mu     sync.Mutex
	routes map[string]*Node
	pages  []*Page

	// OpenErr, если задан, возвращается из Open.
	OpenErr error
	// IdleErr, если задан, возвращается из WaitIdle.
	IdleErr error

	opened int
	closed int
}

var _ browser.Launcher = (*Browser)(nil)

// New создаёт пустой фейковый браузер.
func New() *Browser {
	return &Browser{routes: make(map[string]*Node)}
}

// Route привязывает страницу к адресу. root играет роль документа: поиск идёт по его потомкам,
// сам root селекторам не отвечает.
func (b *Browser) Route(url string, root *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[url] = root
}

// Show снимает с узла флаг Hidden.
func (b *Browser) Show(n *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n.Hidden = false
}

// Clicks возвращает число кликов по узлу.
func (b *Browser) Clicks(n *Node) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return n.clicks
}

// Inputs возвращает всё, что было введено в узел.
func (b *Browser) Inputs(n *Node) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), n.inputs...)
}

// Opened возвращает число открытых сессий.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Closed возвращает число закрытых сессий.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// LastPage возвращает страницу последней открытой сессии.
func (b *Browser) LastPage() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[len(b.pages)-1]
}

// Open реализует browser.Launcher.
func (b *Browser) Open(_ context.Context) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}
	b.opened++
	p := &Page{b: b, root: &Node{}}
	b.pages = append(b.pages, p)
	return &session{b: b, page: p}, nil
}

type session struct {
	b      *Browser
	page   *Page
	closed bool
}

func (s *session) Page() browser.Page {
	return s.page
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.closed++
	}
	return nil
}

// Page: фейковая вкладка.
type Page struct {
	b    *Browser
	url  string
	root *Node

	navigations []string
}

var _ browser.Page = (*Page)(nil)

// Goto меняет адрес страницы без записи в историю навигаций (редиректы, клики по ссылкам).
func (p *Page) Goto(url string) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.gotoLocked(url)
}

func (p *Page) gotoLocked(url string) {
	p.url = url
	root, ok := p.b.routes[url]
	if !ok {
		root = &Node{}
	}
	p.root = root
}

// Navigations возвращает адреса, открытые через Navigate.
func (p *Page) Navigations() []string {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.navigations = append(p.navigations, url)
	p.gotoLocked(url)
	return nil
}

func (p *Page) WaitIdle(_ context.Context, _ time.Duration) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.IdleErr
}

func (p *Page) URL(_ context.Context) (string, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.url, nil
}

func (p *Page) Find(_ context.Context, selector string) (browser.Element, bool, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	found := collect(p.root, selector, false)
	if len(found) == 0 {
		return nil, false, nil
	}
	return &element{p: p, n: found[0]}, true, nil
}

func (p *Page) FindAll(_ context.Context, selector string) ([]browser.Element, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.wrap(collect(p.root, selector, false)), nil
}

func (p *Page) WaitVisible(_ context.Context, selector string, _ time.Duration) (browser.Element, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	for _, n := range collect(p.root, selector, true) {
		if n.waits < n.AppearAfter {
			n.waits++
			continue
		}
		return &element{p: p, n: n}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrElementNotFound, selector)
}

func (p *Page) WaitText(_ context.Context, selector, text string, _ time.Duration) (browser.Element, error) {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	for _, n := range collect(p.root, selector, false) {
		if strings.TrimSpace(n.Text) == text {
			return &element{p: p, n: n}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q", domain.ErrElementNotFound, selector, text)
}

func (p *Page) WaitURLContains(_ context.Context, fragment string, _ time.Duration) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if !strings.Contains(p.url, fragment) {
		return fmt.Errorf("%w: url %q does not contain %q", domain.ErrNavigation, p.url, fragment)
	}
	return nil
}

func (p *Page) wrap(nodes []*Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{p: p, n: n})
	}
	return out
}

// collect обходит дерево в порядке документа. Скрытые узлы пропускаются вместе с потомками;
// узлы с AppearAfter видны только WaitVisible (includePending) или после появления.
func collect(root *Node, selector string, includePending bool) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if c.Hidden {
				continue
			}
			if c.matches(selector) && (includePending || c.waits >= c.AppearAfter) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

type element struct {
	p *Page
	n *Node
}

func (e *element) Click(_ context.Context) error {
	e.p.b.mu.Lock()
	e.n.clicks++
	hook := e.n.OnClick
	e.p.b.mu.Unlock()

	if hook != nil {
		hook(e.p)
	}
	return nil
}

func (e *element) Input(_ context.Context, text string) error {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	e.n.inputs = append(e.n.inputs, text)
	return nil
}

func (e *element) Text(_ context.Context) (string, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	return e.n.Text, nil
}

func (e *element) Property(_ context.Context, name string) (string, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	return e.n.Props[name], nil
}

func (e *element) Find(_ context.Context, selector string) (browser.Element, bool, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	found := collect(e.n, selector, false)
	if len(found) == 0 {
		return nil, false, nil
	}
	return &element{p: e.p, n: found[0]}, true, nil
}

func (e *element) Texts(_ context.Context, selector string) ([]string, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	found := collect(e.n, selector, false)
	texts := make([]string, 0, len(found))
	for _, n := range found {
		texts = append(texts, n.Text)
	}
	return texts, nil
}

func (e *element) FirstChildText(_ context.Context) (string, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	if len(e.n.Children) == 0 {
		return "", nil
	}
	return e.n.Children[0].Text, nil
}

func (e *element) Screenshot(_ context.Context) ([]byte, error) {
	e.p.b.mu.Lock()
	defer e.p.b.mu.Unlock()
	if e.n.Image != nil {
		return append([]byte(nil), e.n.Image...), nil
	}
	return []byte("png:" + e.n.Text), nil
}
