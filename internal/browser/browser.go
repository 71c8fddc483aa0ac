// Package browser drives a Chromium browser through go-rod. It implements
// engine.Executor and engine.Browser.
//
// Live tab ids are CDP target ids. A window is an incognito browser
// context; the empty window id is the default context. Frame ids are
// "top" for a tab's document and the xpath of an iframe element
// otherwise.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/engine"
)

// TopFrame names a tab's top-level document.
const TopFrame = "top"

var (
	_ engine.Executor = (*Browser)(nil)
	_ engine.Browser  = (*Browser)(nil)
)

// Browser is a connected browser and the tabs harvest opened in it.
//
// Thread-safety: all methods are safe for concurrent use; the pager
// extracts from several frames at once.
type Browser struct {
	root       *rod.Browser
	launch     *launcher.Launcher
	navTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	windows map[string]*rod.Browser
	tabs    map[string]*liveTab
	nextWin int
}

type liveTab struct {
	page   *rod.Page
	window string
}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Browser) { b.logger = l }
}

// Launch connects to cfg.DebuggerURL, or starts a browser when it is empty.
func Launch(ctx context.Context, cfg config.BrowserConfig, opts ...Option) (*Browser, error) {
	b := &Browser{
		navTimeout: cfg.NavigationTimeout,
		logger:     slog.Default(),
		windows:    make(map[string]*rod.Browser),
		tabs:       make(map[string]*liveTab),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.navTimeout <= 0 {
		b.navTimeout = 30 * time.Second
	}

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Launch != "" {
			l = l.Bin(cfg.Launch)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		b.launch = l
	}

	root := rod.New().ControlURL(controlURL).Context(ctx)
	if err := root.Connect(); err != nil {
		if b.launch != nil {
			b.launch.Kill()
		}
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	b.root = root
	b.logger.Info("browser connected", "control_url", controlURL, "launched", b.launch != nil)
	return b, nil
}

// Close closes every window harvest opened and, if the browser was
// launched here, the browser itself.
func (b *Browser) Close() error {
	b.mu.Lock()
	windows := make([]string, 0, len(b.windows))
	for id := range b.windows {
		windows = append(windows, id)
	}
	b.mu.Unlock()
	for _, id := range windows {
		if err := b.CloseWindow(context.Background(), id); err != nil {
			b.logger.Warn("close window failed", "window", id, "error", err)
		}
	}
	if b.launch == nil {
		return nil
	}
	err := b.root.Close()
	b.launch.Kill()
	b.launch.Cleanup()
	return err
}

// OpenWindow creates an incognito context.
func (b *Browser) OpenWindow(ctx context.Context) (string, error) {
	w, err := b.root.Context(ctx).Incognito()
	if err != nil {
		return "", fmt.Errorf("%w: open window: %v", engine.ErrTransport, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextWin++
	id := fmt.Sprintf("win-%d", b.nextWin)
	b.windows[id] = w
	return id, nil
}

// CloseWindow closes the window's tabs and disposes of its context.
func (b *Browser) CloseWindow(ctx context.Context, window string) error {
	b.mu.Lock()
	w, ok := b.windows[window]
	var pages []*rod.Page
	for id, t := range b.tabs {
		if t.window == window {
			pages = append(pages, t.page)
			delete(b.tabs, id)
		}
	}
	delete(b.windows, window)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("close window %q: unknown window", window)
	}
	for _, p := range pages {
		_ = p.Context(ctx).Close()
	}
	if err := w.Context(ctx).Close(); err != nil {
		return fmt.Errorf("%w: close window %s: %v", engine.ErrTransport, window, err)
	}
	return nil
}

// CloseTab closes one tab.
func (b *Browser) CloseTab(ctx context.Context, tab string) error {
	t, err := b.tab(tab)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.tabs, tab)
	b.mu.Unlock()
	if err := t.page.Context(ctx).Close(); err != nil {
		return fmt.Errorf("%w: close tab %s: %v", engine.ErrTransport, tab, err)
	}
	return nil
}

// Back goes one step back in the tab's history and waits for the load.
func (b *Browser) Back(ctx context.Context, tab string) error {
	t, err := b.tab(tab)
	if err != nil {
		return err
	}
	p := t.page.Context(ctx).Timeout(b.navTimeout)
	if err := p.NavigateBack(); err != nil {
		return fmt.Errorf("%w: back %s: %v", engine.ErrTransport, tab, err)
	}
	return b.waitLoad(ctx, t.page)
}

// ErrUnknownTab is returned for tab ids this browser did not open.
var ErrUnknownTab = fmt.Errorf("%w: unknown tab", engine.ErrNodeNotFound)

func (b *Browser) tab(id string) (*liveTab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTab, id)
	}
	return t, nil
}

func (b *Browser) window(id string) (*rod.Browser, error) {
	if id == "" {
		return b.root, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[id]
	if !ok {
		return nil, fmt.Errorf("unknown window %q", id)
	}
	return w, nil
}

// newTab opens a blank tab in window and tracks it.
func (b *Browser) newTab(ctx context.Context, window string) (*liveTab, string, error) {
	w, err := b.window(window)
	if err != nil {
		return nil, "", err
	}
	p, err := w.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, "", fmt.Errorf("%w: open tab: %v", engine.ErrTransport, err)
	}
	return b.track(p, window), string(p.TargetID), nil
}

func (b *Browser) track(p *rod.Page, window string) *liveTab {
	t := &liveTab{page: p, window: window}
	b.mu.Lock()
	b.tabs[string(p.TargetID)] = t
	b.mu.Unlock()
	return t
}

// known lists the target ids currently open anywhere in the browser.
func (b *Browser) known(ctx context.Context) (map[proto.TargetTargetID]bool, error) {
	pages, err := b.root.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	out := make(map[proto.TargetTargetID]bool, len(pages))
	for _, p := range pages {
		out[p.TargetID] = true
	}
	return out, nil
}

func (b *Browser) navigate(ctx context.Context, p *rod.Page, url string) error {
	if err := p.Context(ctx).Timeout(b.navTimeout).Navigate(url); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", engine.ErrTransport, url, err)
	}
	return b.waitLoad(ctx, p)
}

func (b *Browser) waitLoad(ctx context.Context, p *rod.Page) error {
	if err := p.Context(ctx).Timeout(b.navTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("%w: wait for load: %v", engine.ErrTransport, err)
	}
	return nil
}
