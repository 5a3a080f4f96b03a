// Package browser drives a headless Chrome instance for the researcher.
// A Session owns one page at a time: the loop navigates to the first
// search hit, captures a screenshot for the state stack, and extracts
// readable text for the research summary.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/artifex-labs/artifex/internal/config"
)

// Session is a lazily-started browser with a single tracked page.
// Safe for use from one loop goroutine; methods serialize internally.
type Session struct {
	cfg    config.BrowserConfig
	logger *slog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	url      string
}

// NewSession creates a browser session. Chrome is not launched until
// the first Navigate call.
func NewSession(cfg config.BrowserConfig, logger *slog.Logger) *Session {
	return &Session{cfg: cfg, logger: logger}
}

// ensureStarted launches Chrome and connects on first use.
func (s *Session) ensureStarted(ctx context.Context) error {
	if s.browser != nil {
		return nil
	}

	l := launcher.New().Headless(s.cfg.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return fmt.Errorf("create page: %w", err)
	}

	s.launcher = l
	s.browser = browser
	s.page = page
	s.logger.Debug("browser started", "headless", s.cfg.Headless)
	return nil
}

func (s *Session) navigationTimeout() time.Duration {
	if s.cfg.NavigationTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.cfg.NavigationTimeoutSec) * time.Second
}

// Navigate loads a URL and waits for the page load event, bounded by
// the configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()

	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}

	s.url = url
	s.logger.Debug("navigated", "url", url)
	return nil
}

// CurrentURL returns the last successfully navigated URL.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Screenshot captures the current viewport as a PNG under the
// configured screenshots directory and returns its path.
func (s *Session) Screenshot(ctx context.Context, task string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return "", fmt.Errorf("no page loaded")
	}

	data, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	dir := s.cfg.ScreenshotsDir
	if dir == "" {
		dir = "screenshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshots dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", task, time.Now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// ExtractText returns the page title and its readable text content.
func (s *Session) ExtractText(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return "", "", fmt.Errorf("no page loaded")
	}

	raw, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", "", fmt.Errorf("page html: %w", err)
	}

	title, text := ExtractReadable(raw)
	return title, text, nil
}

// Close shuts down the page, browser, and launched Chrome process.
// Safe to call when nothing was ever started.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
	s.url = ""
	return err
}
