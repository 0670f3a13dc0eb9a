package resolver_test

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
)

// fakeElement is an in-memory dom.Element.
type fakeElement struct {
	name  string
	text  string
	attrs map[string]string
	frame dom.Frame
	html  string

	// frameErrs is the number of ContentFrame calls that fail before it
	// answers normally.
	frameErrs int
	onFrame   func()

	mu     sync.Mutex
	clicks int
	typed  string
}

func (e *fakeElement) TextContent(ctx context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) OuterHTML(ctx context.Context) (string, error) { return e.html, nil }

func (e *fakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks++
	return nil
}

func (e *fakeElement) Type(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typed += text
	return nil
}

func (e *fakeElement) ContentFrame(ctx context.Context) (dom.Frame, bool, error) {
	if e.onFrame != nil {
		e.onFrame()
	}
	e.mu.Lock()
	if e.frameErrs > 0 {
		e.frameErrs--
		e.mu.Unlock()
		return nil, false, errDetached
	}
	e.mu.Unlock()
	if e.frame == nil {
		return nil, false, nil
	}
	return e.frame, true, nil
}

func (e *fakeElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// scriptedFrame answers queries from a script keyed by the call number
// (starting at 1). It records every selector it was asked for.
type scriptedFrame struct {
	script func(call int, selector string) ([]dom.Element, error)

	mu        sync.Mutex
	calls     int
	selectors []string
}

func (f *scriptedFrame) query(selector string) ([]dom.Element, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.selectors = append(f.selectors, selector)
	f.mu.Unlock()
	return f.script(call, selector)
}

func (f *scriptedFrame) QueryOne(ctx context.Context, selector string) (dom.Element, error) {
	els, err := f.query(selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (f *scriptedFrame) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	return f.query(selector)
}

func (f *scriptedFrame) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFrame) Selectors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selectors...)
}

// staticFrame always answers with the same elements.
func staticFrame(els ...dom.Element) *scriptedFrame {
	return &scriptedFrame{script: func(int, string) ([]dom.Element, error) { return els, nil }}
}

// appearsAfter returns nothing for the first n calls, then el.
func appearsAfter(n int, el dom.Element) *scriptedFrame {
	return &scriptedFrame{script: func(call int, _ string) ([]dom.Element, error) {
		if call <= n {
			return nil, nil
		}
		return []dom.Element{el}, nil
	}}
}

var errDetached = errors.New("frame detached during query")
