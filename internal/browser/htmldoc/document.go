// Package htmldoc is an offline dom.Frame backend over a static HTML document.
// It gives the resolver real CSS selector semantics (through cascadia) without
// a browser, which is what the `run --html` mode and many tests rely on.
//
// Same-document iframes are supported through the srcdoc attribute: an
// <iframe srcdoc="..."> hosts a nested Document parsed from that markup.
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
)

// Document is a parsed HTML document. It is safe for concurrent use.
type Document struct {
	doc *goquery.Document

	mu     sync.Mutex
	frames map[*html.Node]*Document
	clicks []string
}

var _ dom.Frame = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		doc:    goquery.NewDocumentFromNode(root),
		frames: make(map[*html.Node]*Document),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// QueryOne implements dom.Frame.
func (d *Document) QueryOne(ctx context.Context, selector string) (dom.Element, error) {
	els, err := d.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// QueryAll implements dom.Frame. Invalid selectors are reported as errors.
func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	matches := d.doc.FindMatcher(m)
	out := make([]dom.Element, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{owner: d, sel: s})
	})
	return out, nil
}

// Clicks returns the outer markup of every clicked element, in click order.
func (d *Document) Clicks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

// HTML serializes the current document, including typed values.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

// nestedFrame returns the document hosted by an iframe's srcdoc, parsing it on
// first use so that state (typed values, clicks) persists across lookups.
func (d *Document) nestedFrame(n *html.Node, srcdoc string) (*Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.frames[n]; ok {
		return f, nil
	}
	f, err := ParseString(srcdoc)
	if err != nil {
		return nil, err
	}
	d.frames[n] = f
	return f, nil
}
