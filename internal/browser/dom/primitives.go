// Package dom defines the capability set the resolver needs from a browsing
// context (a top-level page or a nested iframe document) and from the elements
// found in it. Concrete backends live in internal/browser/session (CDP) and
// internal/browser/htmldoc (static HTML).
package dom

import "context"

// Frame is a browsing context that can be queried with a structural selector.
// Both the top-level page and nested iframe documents implement it, so callers
// never need to know which one they hold.
type Frame interface {
	// QueryOne returns the first element matching selector in document order,
	// or a nil Element (and nil error) when nothing matches.
	QueryOne(ctx context.Context, selector string) (Element, error)
	// QueryAll returns every element matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Element is a live handle to a DOM element.
type Element interface {
	// TextContent returns the element's text content ("" when it has none).
	TextContent(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// OuterHTML returns the element's serialized markup.
	OuterHTML(ctx context.Context) (string, error)
	// Click dispatches a click on the element.
	Click(ctx context.Context) error
	// Type focuses the element and dispatches key input for text.
	Type(ctx context.Context, text string) error
	// ContentFrame returns the nested browsing context hosted by the element.
	// ok is false when the element does not host one (it is not an iframe, or
	// its document is not reachable).
	ContentFrame(ctx context.Context) (frame Frame, ok bool, err error)
}
