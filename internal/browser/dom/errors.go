package dom

import (
	"errors"
	"fmt"
)

// Typed errors let callers classify failures with errors.Is / errors.As instead
// of matching on message text. Transient absence of an element is not an error
// at all: the resolver keeps polling until the element shows up.

var (
	// ErrSessionClosed is returned by any operation issued during or after
	// browser teardown. It always terminates a polling loop.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrNotInitialized is returned when session handles are requested before
	// Init has completed successfully.
	ErrNotInitialized = errors.New("browser session not initialized")
)

// ResolutionError reports that an element in a frame-navigation chain was found
// but does not host a nested browsing context.
type ResolutionError struct {
	// Selector is the compiled selector of the offending chain entry.
	Selector string
	// Depth is the zero-based position of that entry in the chain.
	Depth int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("element has no frame: chain[%d] %q", e.Depth, e.Selector)
}

// AttributeNotFoundError reports that a resolved element lacks the requested
// attribute. It is returned immediately and never retried.
type AttributeNotFoundError struct {
	Selector  string
	Attribute string
}

func (e *AttributeNotFoundError) Error() string {
	return fmt.Sprintf("attribute %q not found on element matching %q", e.Attribute, e.Selector)
}
