// Package session bootstraps a Chrome instance over the DevTools protocol and
// exposes its top-level page as a dom.Frame for the resolver.
//
// The context handed to Init is the only external cancellation signal. When it
// is done, or Close is called, the session tears down exactly once: resolvers
// bound to it start failing with dom.ErrSessionClosed, the tab and browser are
// closed and the allocator is released.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/netidle"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/resolver"
	"github.com/xkilldash9x/scalpel-driver/internal/config"
)

// Option configures a Session.
type Option func(*Session)

// WithResolverOptions passes options through to every resolver the session
// hands out.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(s *Session) { s.resolverOpts = append(s.resolverOpts, opts...) }
}

// WithIdleTracker replaces the network idle tracker, mostly to inject a clock.
func WithIdleTracker(t *netidle.Tracker) Option {
	return func(s *Session) { s.idle = t }
}

// Session owns one browser with a single tab.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	resolverOpts []resolver.Option
	idle         *netidle.Tracker

	// mu guards the lifecycle fields and serializes configuration calls.
	mu          sync.Mutex
	initialized bool
	closed      bool
	tabCtx      context.Context
	allocCancel context.CancelFunc
	lifetime    context.Context
	endLifetime context.CancelFunc

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// New prepares a session. Nothing is launched until Init.
func New(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		logger:  logger.Named("session").With(zap.String("session_id", id)),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idle == nil {
		s.idle = netidle.NewTracker(nil)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Init launches the browser, attaches to its first tab and applies the
// configured viewport and download directory. It runs at most once; parent
// stays the session's cancellation signal after Init returns.
func (s *Session) Init(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return dom.ErrSessionClosed
	case s.initialized:
		return errors.New("session already initialized")
	}
	if err := parent.Err(); err != nil {
		return err
	}

	// The browser must survive parent's cancellation long enough to be closed
	// gracefully, so its contexts only inherit parent's values.
	base := context.WithoutCancel(parent)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, allocatorOptions(s.cfg)...)

	sugar := s.logger.Named("cdp").Sugar()
	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Infof),
		chromedp.WithErrorf(sugar.Errorf),
	}
	if s.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, _ := chromedp.NewContext(allocCtx, ctxOpts...)

	lifetime, endLifetime := context.WithCancel(base)
	s.tabCtx = tabCtx
	s.allocCancel = allocCancel
	s.lifetime = lifetime
	s.endLifetime = endLifetime

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*network.EventResponseReceived); ok {
			s.idle.Observe()
		}
	})

	// The first Run on the tab context starts the browser; it must not run on
	// a derived context or the browser dies with it.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		s.closed = true
		s.teardown()
		return fmt.Errorf("launch browser: %w", err)
	}
	go s.watch(parent)
	s.initialized = true

	if err := s.runLocked(parent, emulation.SetDeviceMetricsOverride(int64(s.cfg.Viewport.Width), int64(s.cfg.Viewport.Height), 1.0, false)); err != nil {
		return fmt.Errorf("apply viewport: %w", err)
	}
	if s.cfg.DownloadDir != "" {
		if err := s.setDownloadDirLocked(parent, s.cfg.DownloadDir); err != nil {
			return err
		}
	}
	s.logger.Info("Browser session initialized.", zap.Bool("headless", s.cfg.Headless))
	return nil
}

// Resolver returns a root resolver bound to the page and the session lifetime.
func (s *Session) Resolver() (*resolver.Resolver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, dom.ErrNotInitialized
	}
	opts := append([]resolver.Option{
		resolver.WithLogger(s.logger),
		resolver.WithIdleTracker(s.idle),
	}, s.resolverOpts...)
	return resolver.New(&frame{s: s, root: pageDocument}, s.lifetime, opts...), nil
}

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	s.logger.Info("Navigating.", zap.String("url", url))
	if err := s.runLocked(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %q: %w", url, err)
	}
	return nil
}

// SetViewport resizes the emulated window.
func (s *Session) SetViewport(ctx context.Context, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", width, height)
	}
	if err := s.runLocked(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1.0, false)); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	s.cfg.Viewport = config.ViewportConfig{Width: width, Height: height}
	return nil
}

// SetDownloadDir makes the browser save downloads into dir. A leading "~" is
// expanded to the home directory.
func (s *Session) SetDownloadDir(ctx context.Context, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	return s.setDownloadDirLocked(ctx, dir)
}

func (s *Session) setDownloadDirLocked(ctx context.Context, dir string) error {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return fmt.Errorf("expand download dir %q: %w", dir, err)
	}
	action := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(expanded).
		WithEventsEnabled(true)
	if err := s.runLocked(ctx, action); err != nil {
		return fmt.Errorf("set download dir: %w", err)
	}
	s.cfg.DownloadDir = expanded
	return nil
}

// Close tears the session down and waits for teardown to finish. It is safe
// to call more than once, and before Init.
func (s *Session) Close() error {
	s.mu.Lock()
	initialized := s.initialized
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closing) })
	if !initialized {
		// Nothing was launched, or a failed launch already tore down.
		s.finish()
		return nil
	}
	<-s.done
	return nil
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until teardown has finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) watch(parent context.Context) {
	select {
	case <-parent.Done():
		s.logger.Info("Parent context done; closing session.", zap.Error(context.Cause(parent)))
	case <-s.closing:
		s.logger.Info("Closing session.")
	}
	s.teardown()
}

// teardown ends the resolver lifetime first so that blocked resolutions
// report dom.ErrSessionClosed rather than a transport error.
func (s *Session) teardown() {
	s.endLifetime()
	if err := chromedp.Cancel(s.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Browser did not close cleanly.", zap.Error(err))
	}
	s.allocCancel()
	s.finish()
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) usableLocked() error {
	switch {
	case !s.initialized:
		return dom.ErrNotInitialized
	case s.lifetime.Err() != nil:
		return dom.ErrSessionClosed
	}
	return nil
}

// runLocked runs actions on the tab, bounded by ctx.
func (s *Session) runLocked(ctx context.Context, actions ...chromedp.Action) error {
	return s.run(ctx, chromedp.Tasks(actions).Do)
}

// run executes fn with a CDP executor for the tab, bounded by both ctx and
// the session lifetime.
func (s *Session) run(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	err := chromedp.Run(opCtx, chromedp.ActionFunc(fn))
	if err != nil && s.lifetime.Err() != nil {
		return dom.ErrSessionClosed
	}
	return err
}
