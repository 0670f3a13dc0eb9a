package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-driver/internal/browser/selector"
)

// AttributeValue resolves item and returns the value of attribute name. A
// resolved element that lacks the attribute fails with
// *dom.AttributeNotFoundError; the lookup is not retried.
func (r *Resolver) AttributeValue(ctx context.Context, item selector.Item, name string) (string, error) {
	el, err := r.Locate(ctx, item)
	if err != nil {
		return "", err
	}
	value, ok, err := el.Attribute(ctx, name)
	if err != nil {
		return "", r.wrap(ctx, "read attribute of", item, err)
	}
	if !ok {
		return "", &dom.AttributeNotFoundError{Selector: item.String(), Attribute: name}
	}
	return value, nil
}

// OuterHTML resolves item and returns its serialized markup.
func (r *Resolver) OuterHTML(ctx context.Context, item selector.Item) (string, error) {
	el, err := r.Locate(ctx, item)
	if err != nil {
		return "", err
	}
	markup, err := el.OuterHTML(ctx)
	if err != nil {
		return "", r.wrap(ctx, "read markup of", item, err)
	}
	return markup, nil
}

// Click resolves item and clicks it. It returns r so calls can be chained.
func (r *Resolver) Click(ctx context.Context, item selector.Item) (*Resolver, error) {
	el, err := r.Locate(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := el.Click(ctx); err != nil {
		return nil, r.wrap(ctx, "click", item, err)
	}
	r.logger.Debug("Clicked element.", zap.String("selector", item.String()), zap.Int("frame_depth", len(r.chain)))
	return r, nil
}

// Type resolves item and types text into it, key by key.
func (r *Resolver) Type(ctx context.Context, item selector.Item, text string) error {
	el, err := r.Locate(ctx, item)
	if err != nil {
		return err
	}
	if err := el.Type(ctx, text); err != nil {
		return r.wrap(ctx, "type into", item, err)
	}
	r.logger.Debug("Typed into element.", zap.String("selector", item.String()), zap.Int("text_length", len(text)))
	return nil
}

// EnterFrame returns a new resolver whose chain is r's chain with item
// appended. The extended chain is resolved once before returning, so a frame
// that cannot be reached fails here rather than on first use.
func (r *Resolver) EnterFrame(ctx context.Context, item selector.Item) (*Resolver, error) {
	child := *r
	child.chain = append(slices.Clip(r.chain), item)

	if _, err := child.ResolveFrame(ctx); err != nil {
		return nil, fmt.Errorf("enter frame %q: %w", item.String(), err)
	}
	r.logger.Debug("Entered frame.", zap.String("selector", item.String()), zap.Int("frame_depth", len(child.chain)))
	return &child, nil
}

// WaitNetworkIdle resolves once no network response has been observed for
// quiet (the configured default when quiet <= 0). A page with constant
// background traffic never settles; ctx is the only ceiling.
func (r *Resolver) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if r.idle == nil {
		return errors.New("network idle tracking is not available for this page")
	}
	if quiet <= 0 {
		quiet = r.idleWindow
	}
	if err := r.alive(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.lifetime, cancel)
	defer stop()

	if err := r.idle.Wait(waitCtx, quiet); err != nil {
		if aliveErr := r.alive(ctx); aliveErr != nil {
			return aliveErr
		}
		return err
	}
	return nil
}
