package htmldoc

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
)

// Element is a node of a Document.
type Element struct {
	owner *Document
	sel   *goquery.Selection
}

var _ dom.Element = (*Element)(nil)

// TextContent implements dom.Element.
func (e *Element) TextContent(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return e.sel.Text(), nil
}

// Attribute implements dom.Element.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

// OuterHTML implements dom.Element.
func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return goquery.OuterHtml(e.sel)
}

// Click records the click on the owning document. Static documents have no
// scripts, so nothing else happens.
func (e *Element) Click(ctx context.Context) error {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	markup, err := goquery.OuterHtml(e.sel)
	if err != nil {
		return err
	}
	e.owner.clicks = append(e.owner.clicks, markup)
	return nil
}

// Type appends text to the element's value: the value attribute for inputs,
// the text content for textareas and everything else.
func (e *Element) Type(ctx context.Context, text string) error {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	if strings.EqualFold(goquery.NodeName(e.sel), "input") {
		v, _ := e.sel.Attr("value")
		e.sel.SetAttr("value", v+text)
		return nil
	}
	e.sel.SetText(e.sel.Text() + text)
	return nil
}

// ContentFrame implements dom.Element for iframes carrying a srcdoc.
func (e *Element) ContentFrame(ctx context.Context) (dom.Frame, bool, error) {
	e.owner.mu.Lock()
	isFrame := strings.EqualFold(goquery.NodeName(e.sel), "iframe")
	srcdoc, hasDoc := e.sel.Attr("srcdoc")
	node := e.sel.Get(0)
	e.owner.mu.Unlock()

	if !isFrame || !hasDoc {
		return nil, false, nil
	}
	f, err := e.owner.nestedFrame(node, srcdoc)
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}
