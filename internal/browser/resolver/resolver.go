// Package resolver turns selector Items into live elements. Resolution polls
// with a fixed backoff until the element shows up, optionally after descending
// through a chain of iframes, and the interaction helpers (click, type, read
// attribute or markup, enter a frame, wait for network idle) are layered on
// that single primitive.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/netidle"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/selector"
)

const (
	// DefaultPollInterval is the fixed backoff between resolution attempts.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultIdleWindow is the quiet window used by WaitNetworkIdle when the
	// caller passes a non-positive duration.
	DefaultIdleWindow = 2 * time.Second
)

// Resolver resolves Items against a page, after walking its frame-navigation
// chain. A Resolver is never mutated once built: EnterFrame returns a new value
// with an extended chain, so a caller holding the outer resolver is unaffected
// by navigation done through an inner one.
//
// A single Resolver is meant to be driven by one caller at a time.
type Resolver struct {
	root     dom.Frame
	chain    []selector.Item
	lifetime context.Context

	clock        clock.Clock
	pollInterval time.Duration
	idleWindow   time.Duration
	idle         *netidle.Tracker
	logger       *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock sets the clock used for backoff waits.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithPollInterval overrides the backoff interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithIdleWindow overrides the default network-idle quiet window.
func WithIdleWindow(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.idleWindow = d
		}
	}
}

// WithIdleTracker wires the tracker fed by the page's network response events.
func WithIdleTracker(t *netidle.Tracker) Option {
	return func(r *Resolver) { r.idle = t }
}

// WithLogger sets the logger. The resolver names it "resolver".
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a root resolver over the top-level frame. lifetime is the
// session's context: once it is done, every operation fails with
// dom.ErrSessionClosed.
func New(root dom.Frame, lifetime context.Context, opts ...Option) *Resolver {
	r := &Resolver{
		root:         root,
		lifetime:     lifetime,
		clock:        clock.New(),
		pollInterval: DefaultPollInterval,
		idleWindow:   DefaultIdleWindow,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lifetime == nil {
		r.lifetime = context.Background()
	}
	r.logger = r.logger.Named("resolver")
	return r
}

// Chain returns a copy of the frame-navigation chain.
func (r *Resolver) Chain() []selector.Item {
	return slices.Clone(r.chain)
}

// Root returns a resolver over the same page with an empty chain.
func (r *Resolver) Root() *Resolver {
	out := *r
	out.chain = nil
	return &out
}

// ResolveFrame walks the navigation chain from the top-level page. An empty
// chain yields the page itself without polling. Each chain entry is resolved
// (polling) and then replaced by the browsing context it hosts; an entry that
// hosts none fails with *dom.ResolutionError and ends the walk.
func (r *Resolver) ResolveFrame(ctx context.Context) (dom.Frame, error) {
	current := r.root
	for depth, item := range r.chain {
		next, err := r.descend(ctx, current, item, depth)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// descend resolves item inside frame and returns the frame it hosts. Failing
// to read the hosted frame is retried like a failed query, re-resolving the
// element each time since it may have been replaced.
func (r *Resolver) descend(ctx context.Context, frame dom.Frame, item selector.Item, depth int) (dom.Frame, error) {
	for {
		el, err := r.ResolveElement(ctx, frame, item)
		if err != nil {
			return nil, err
		}
		next, ok, err := el.ContentFrame(ctx)
		if err == nil {
			if !ok {
				return nil, &dom.ResolutionError{Selector: item.String(), Depth: depth}
			}
			return next, nil
		}
		if aliveErr := r.alive(ctx); aliveErr != nil {
			return nil, aliveErr
		}
		r.logger.Debug("Transient frame lookup failure, retrying.", zap.String("selector", item.String()), zap.Int("depth", depth), zap.Error(err))
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, err
		}
	}
}

// ResolveElement finds item inside frame, retrying every poll interval until
// it appears. Query failures are treated like "not found yet" while the
// session is alive. The loop ends only with an element, with
// dom.ErrSessionClosed once the session lifetime is over, with ctx's error if
// the caller gives up, or with an error for an invalid text pattern.
func (r *Resolver) ResolveElement(ctx context.Context, frame dom.Frame, item selector.Item) (dom.Element, error) {
	pattern, err := item.TextPattern()
	if err != nil {
		return nil, err
	}
	sel := item.String()
	if sel == "" {
		sel = "*"
	}

	for attempt := 1; ; attempt++ {
		if err := r.alive(ctx); err != nil {
			return nil, err
		}

		el, err := find(ctx, frame, sel, pattern)
		if el != nil {
			if attempt > 1 {
				r.logger.Debug("Element resolved after retries.", zap.String("selector", sel), zap.Int("attempts", attempt))
			}
			return el, nil
		}
		if err != nil {
			// A closed browser must surface, not be retried as transient.
			if aliveErr := r.alive(ctx); aliveErr != nil {
				return nil, aliveErr
			}
			r.logger.Debug("Transient query failure, retrying.", zap.String("selector", sel), zap.Error(err))
		}

		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, err
		}
	}
}

// find performs one resolution attempt. A nil element with a nil error means
// nothing matched yet.
func find(ctx context.Context, frame dom.Frame, sel string, pattern *regexp.Regexp) (dom.Element, error) {
	if pattern == nil {
		return frame.QueryOne(ctx, sel)
	}
	candidates, err := frame.QueryAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		text, err := c.TextContent(ctx)
		if err != nil {
			return nil, err
		}
		if pattern.MatchString(text) {
			return c, nil
		}
	}
	return nil, nil
}

// Locate resolves the current frame and then item inside it.
func (r *Resolver) Locate(ctx context.Context, item selector.Item) (dom.Element, error) {
	frame, err := r.ResolveFrame(ctx)
	if err != nil {
		return nil, err
	}
	return r.ResolveElement(ctx, frame, item)
}

// alive reports why the resolver must stop: the session is gone, or the caller
// canceled ctx.
func (r *Resolver) alive(ctx context.Context) error {
	if r.lifetime.Err() != nil {
		return dom.ErrSessionClosed
	}
	return ctx.Err()
}

func (r *Resolver) sleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.lifetime.Done():
		return dom.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wrap maps failures of an already-resolved element. Once the session is
// gone the cause is always reported as dom.ErrSessionClosed.
func (r *Resolver) wrap(ctx context.Context, op string, item selector.Item, err error) error {
	if err == nil {
		return nil
	}
	if aliveErr := r.alive(ctx); aliveErr != nil && !errors.Is(err, aliveErr) {
		return fmt.Errorf("%s %q: %w", op, item.String(), aliveErr)
	}
	return fmt.Errorf("%s %q: %w", op, item.String(), err)
}
