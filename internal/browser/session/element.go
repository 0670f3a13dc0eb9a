package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	domapi "github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
)

const (
	objectGroupPrefix = "scalpel-driver-"
	releaseTimeout    = time.Second
)

// element is a DOM element addressed by its backend node id, which stays
// valid while the node is attached and does not pin a JavaScript wrapper.
type element struct {
	s  *Session
	id cdp.BackendNodeID
}

var _ domapi.Element = (*element)(nil)

func (e *element) TextContent(ctx context.Context) (string, error) {
	var text string
	err := e.s.run(ctx, func(ctx context.Context) (err error) {
		text, err = e.textContent(ctx)
		return err
	})
	return text, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := e.s.run(ctx, func(ctx context.Context) (err error) {
		value, ok, err = e.attribute(ctx, name)
		return err
	})
	return value, ok, err
}

func (e *element) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	err := e.s.run(ctx, func(ctx context.Context) (err error) {
		markup, err = dom.GetOuterHTML().WithBackendNodeID(e.id).Do(ctx)
		return err
	})
	return markup, err
}

func (e *element) Click(ctx context.Context) error {
	return e.s.run(ctx, e.click)
}

// Type focuses the element and sends text as key events.
func (e *element) Type(ctx context.Context, text string) error {
	return e.s.run(ctx, func(ctx context.Context) error {
		if err := dom.Focus().WithBackendNodeID(e.id).Do(ctx); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
		return chromedp.KeyEvent(text).Do(ctx)
	})
}

func (e *element) ContentFrame(ctx context.Context) (domapi.Frame, bool, error) {
	var (
		f  domapi.Frame
		ok bool
	)
	err := e.s.run(ctx, func(ctx context.Context) (err error) {
		f, ok, err = e.contentFrame(ctx)
		return err
	})
	return f, ok, err
}

func (e *element) textContent(ctx context.Context) (string, error) {
	var text string
	err := e.withObject(ctx, func(ctx context.Context, obj runtime.RemoteObjectID) error {
		return callValue(ctx, obj, `function() { return this.textContent; }`, &text)
	})
	return text, err
}

func (e *element) attribute(ctx context.Context, name string) (string, bool, error) {
	var value *string
	fn := fmt.Sprintf(`function() { const n = %s; return this.hasAttribute(n) ? this.getAttribute(n) : null; }`, jsLiteral(name))
	err := e.withObject(ctx, func(ctx context.Context, obj runtime.RemoteObjectID) error {
		return callValue(ctx, obj, fn, &value)
	})
	if err != nil || value == nil {
		return "", false, err
	}
	return *value, true, nil
}

// click scrolls the element into view and presses the mouse at the center of
// its first content quad. Elements without a box (hidden or zero-sized) get a
// synthetic DOM click instead.
func (e *element) click(ctx context.Context) error {
	if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(e.id).Do(ctx); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	quads, err := dom.GetContentQuads().WithBackendNodeID(e.id).Do(ctx)
	if err != nil || len(quads) == 0 {
		return e.withObject(ctx, func(ctx context.Context, obj runtime.RemoteObjectID) error {
			_, err := callFunction(ctx, obj, `function() { this.click(); }`, true)
			return err
		})
	}
	x, y := center(quads[0])
	return chromedp.MouseClickXY(x, y).Do(ctx)
}

// contentFrame reports the document hosted by the element. Only frame owners
// with a document in this process qualify; anything else is not a frame.
func (e *element) contentFrame(ctx context.Context) (domapi.Frame, bool, error) {
	doc, err := contentDocument(ctx, e.id)
	if err != nil || doc == nil {
		return nil, false, err
	}
	return &frame{s: e.s, root: frameDocument(e.id)}, true, nil
}

// withObject resolves the element into a private object group for the
// duration of fn. The group is released afterwards, even when ctx is done.
func (e *element) withObject(ctx context.Context, fn func(context.Context, runtime.RemoteObjectID) error) error {
	group := objectGroupPrefix + uuid.NewString()
	defer releaseObjectGroup(ctx, group)

	obj, err := dom.ResolveNode().WithBackendNodeID(e.id).WithObjectGroup(group).Do(ctx)
	if err != nil {
		return fmt.Errorf("resolve node %d: %w", e.id, err)
	}
	return fn(ctx, obj.ObjectID)
}

func releaseObjectGroup(ctx context.Context, group string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	_ = runtime.ReleaseObjectGroup(group).Do(relCtx)
}

func center(q dom.Quad) (float64, float64) {
	var x, y float64
	for i := 0; i+1 < len(q); i += 2 {
		x += q[i]
		y += q[i+1]
	}
	n := float64(len(q) / 2)
	return x / n, y / n
}
