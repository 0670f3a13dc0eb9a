// internal/browser/session/context_utils.go
package session

import (
	"context"
)

// CombineContext returns a context that carries ctx1's values (the chromedp
// tab, in practice) and is canceled when either ctx1 or ctx2 is done. ctx2
// usually carries an operation's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(ctx1)
	stop := context.AfterFunc(ctx2, func() {
		cancel(context.Cause(ctx2))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}
