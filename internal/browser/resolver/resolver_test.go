package resolver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/resolver"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/selector"
	"github.com/xkilldash9x/scalpel-driver/internal/testing/clocktest"
)

type result struct {
	el  dom.Element
	err error
}

func resolveAsync(ctx context.Context, r *resolver.Resolver, frame dom.Frame, item selector.Item) <-chan result {
	out := make(chan result, 1)
	go func() {
		el, err := r.ResolveElement(ctx, frame, item)
		out <- result{el, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("resolution did not finish")
		return result{}
	}
}

func newResolver(t *testing.T, root dom.Frame, lifetime context.Context, opts ...resolver.Option) *resolver.Resolver {
	t.Helper()
	opts = append([]resolver.Option{resolver.WithLogger(zaptest.NewLogger(t))}, opts...)
	return resolver.New(root, lifetime, opts...)
}

func TestResolveElement_RetriesUntilFound(t *testing.T) {
	defer goleak.VerifyNone(t)

	const misses = 3
	target := &fakeElement{name: "late"}
	frame := appearsAfter(misses, target)
	clk := clocktest.New()
	start := clk.Now()
	r := newResolver(t, frame, context.Background(), resolver.WithClock(clk))

	done := resolveAsync(context.Background(), r, frame, selector.New().ByID("late"))

	for i := 0; i < misses; i++ {
		require.Equal(t, resolver.DefaultPollInterval, clk.AwaitTimer(t), "backoff %d", i+1)
		clk.Add(resolver.DefaultPollInterval)
	}

	res := await(t, done)
	require.NoError(t, res.err)
	assert.Same(t, target, res.el)
	assert.Equal(t, misses+1, frame.Calls())
	assert.Equal(t, misses*resolver.DefaultPollInterval, clk.Now().Sub(start), "one backoff per miss")
}

func TestResolveElement_FoundImmediatelyDoesNotWait(t *testing.T) {
	target := &fakeElement{}
	frame := staticFrame(target)
	clk := clocktest.New()
	r := newResolver(t, frame, context.Background(), resolver.WithClock(clk))

	el, err := r.ResolveElement(context.Background(), frame, selector.New().WithTagName("a"))
	require.NoError(t, err)
	assert.Same(t, target, el)
	assert.True(t, clk.NoTimerArmed(10*time.Millisecond))
	assert.Equal(t, []string{"a"}, frame.Selectors())
}

func TestResolveElement_TextFilterPicksFirstMatchInDocumentOrder(t *testing.T) {
	cancelBtn := &fakeElement{name: "cancel", text: "Cancel"}
	submitOrder := &fakeElement{name: "submit-order", text: "Submit order"}
	submit := &fakeElement{name: "submit", text: "Submit"}
	frame := staticFrame(cancelBtn, submitOrder, submit)
	r := newResolver(t, frame, context.Background())

	el, err := r.ResolveElement(context.Background(), frame, selector.New().WithTagName("button").WithText("Submit"))
	require.NoError(t, err)
	assert.Same(t, submitOrder, el)

	el, err = r.ResolveElement(context.Background(), frame, selector.New().WithTagName("button").WithText("^Submit$"))
	require.NoError(t, err)
	assert.Same(t, submit, el)
	assert.Equal(t, []string{"button", "button"}, frame.Selectors(), "text is not part of the structural query")
}

func TestResolveElement_TextFilterIgnoresStructuralMatches(t *testing.T) {
	defer goleak.VerifyNone(t)

	other := &fakeElement{text: "Loading..."}
	ready := &fakeElement{text: "Ready"}
	frame := &scriptedFrame{script: func(call int, _ string) ([]dom.Element, error) {
		if call == 1 {
			return []dom.Element{other}, nil
		}
		return []dom.Element{other, ready}, nil
	}}
	clk := clocktest.New()
	r := newResolver(t, frame, context.Background(), resolver.WithClock(clk))

	done := resolveAsync(context.Background(), r, frame, selector.New().WithClassNames("status").WithText("Ready"))
	clk.AwaitTimer(t)
	clk.Add(resolver.DefaultPollInterval)

	res := await(t, done)
	require.NoError(t, res.err)
	assert.Same(t, ready, res.el)
}

func TestResolveElement_SwallowsTransientErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &fakeElement{}
	frame := &scriptedFrame{script: func(call int, _ string) ([]dom.Element, error) {
		if call < 3 {
			return nil, errDetached
		}
		return []dom.Element{target}, nil
	}}
	clk := clocktest.New()
	r := newResolver(t, frame, context.Background(), resolver.WithClock(clk))

	done := resolveAsync(context.Background(), r, frame, selector.New().WithTagName("iframe"))
	for i := 0; i < 2; i++ {
		clk.AwaitTimer(t)
		clk.Add(resolver.DefaultPollInterval)
	}

	res := await(t, done)
	require.NoError(t, res.err)
	assert.Same(t, target, res.el)
	assert.Equal(t, 3, frame.Calls())
}

func TestResolveElement_EmptyItemMatchesAnyElement(t *testing.T) {
	frame := staticFrame(&fakeElement{})
	r := newResolver(t, frame, context.Background())

	_, err := r.ResolveElement(context.Background(), frame, selector.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, frame.Selectors())
}

func TestResolveElement_InvalidPatternFailsWithoutQuerying(t *testing.T) {
	frame := staticFrame(&fakeElement{})
	r := newResolver(t, frame, context.Background())

	_, err := r.ResolveElement(context.Background(), frame, selector.New().WithText("[unclosed"))
	require.Error(t, err)
	assert.Zero(t, frame.Calls())
}

func TestResolveElement_SessionClosedDuringBackoff(t *testing.T) {
	defer goleak.VerifyNone(t)

	frame := staticFrame() // never finds anything
	clk := clocktest.New()
	lifetime, closeSession := context.WithCancel(context.Background())
	r := newResolver(t, frame, lifetime, resolver.WithClock(clk))

	done := resolveAsync(context.Background(), r, frame, selector.New().ByID("never"))
	clk.AwaitTimer(t)
	closeSession()

	res := await(t, done)
	assert.ErrorIs(t, res.err, dom.ErrSessionClosed)
	assert.Nil(t, res.el)
}

func TestResolveElement_ClosedBrowserErrorIsNotRetried(t *testing.T) {
	clk := clocktest.New()
	lifetime, closeSession := context.WithCancel(context.Background())
	frame := &scriptedFrame{script: func(int, string) ([]dom.Element, error) {
		// The browser goes away mid round-trip.
		closeSession()
		return nil, errors.New("websocket: close 1006 (abnormal closure)")
	}}
	r := newResolver(t, frame, lifetime, resolver.WithClock(clk))

	_, err := r.ResolveElement(context.Background(), frame, selector.New().ByID("x"))
	assert.ErrorIs(t, err, dom.ErrSessionClosed)
	assert.Equal(t, 1, frame.Calls())
	assert.True(t, clk.NoTimerArmed(10*time.Millisecond), "no backoff after teardown")
}

func TestResolveElement_AlreadyClosed(t *testing.T) {
	frame := staticFrame(&fakeElement{})
	lifetime, closeSession := context.WithCancel(context.Background())
	closeSession()
	r := newResolver(t, frame, lifetime)

	_, err := r.ResolveElement(context.Background(), frame, selector.New().ByID("x"))
	assert.ErrorIs(t, err, dom.ErrSessionClosed)
	assert.Zero(t, frame.Calls())
}

func TestResolveElement_CallerDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)

	frame := staticFrame()
	r := newResolver(t, frame, context.Background(), resolver.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.ResolveElement(ctx, frame, selector.New().ByID("missing"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, frame.Calls(), 1)
}
