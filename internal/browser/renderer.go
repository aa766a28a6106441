// Package browser renders JavaScript-heavy documentation pages with a
// detached headless Chrome driven by go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"scanasha/internal/logging"
)

// Config controls how Chrome is found and how long pages may take.
type Config struct {
	// Bin is the Chrome binary; empty lets the launcher download or locate one.
	Bin string
	// DebuggerURL attaches to an already running Chrome instead of launching.
	DebuggerURL       string
	NavigationTimeout time.Duration
	// Settle is how long the DOM must stay unchanged before it is captured.
	Settle time.Duration
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

func (c Config) settle() time.Duration {
	if c.Settle <= 0 {
		return 500 * time.Millisecond
	}
	return c.Settle
}

// Renderer owns one browser and hands out a fresh incognito page per render.
type Renderer struct {
	cfg        Config
	mu         sync.Mutex
	browser    *rod.Browser
	controlURL string
}

// NewRenderer creates a renderer; Chrome starts lazily on first use.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("stale browser connection detected, reconnecting")
		_ = r.browser.Close()
		r.browser = nil
		r.controlURL = ""
	}

	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if r.cfg.Bin != "" {
			l = l.Bin(r.cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	r.browser = browser
	r.controlURL = controlURL
	logging.Browser("connected to chrome at %s", controlURL)
	return nil
}

// Render navigates to url and returns the settled document HTML.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	if err := r.Start(ctx); err != nil {
		return "", err
	}

	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()
	if browser == nil {
		return "", errors.New("browser not connected")
	}

	timer := logging.StartTimer(logging.CategoryBrowser, "Render "+url)
	defer timer.Stop()

	incognito, err := browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(r.cfg.navigationTimeout())
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if err := page.WaitDOMStable(r.cfg.settle(), 0); err != nil {
		logging.BrowserDebug("dom did not settle for %s: %v", url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	logging.BrowserDebug("rendered %s (%d bytes)", url, len(html))
	return html, nil
}

// ControlURL returns the DevTools WebSocket URL.
func (r *Renderer) ControlURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlURL
}

// Shutdown closes the browser.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	r.controlURL = ""
	return err
}
