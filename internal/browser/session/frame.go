package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	jsoniter "github.com/json-iterator/go"

	domapi "github.com/xkilldash9x/scalpel-driver/internal/browser/dom"
)

var errFrameDocumentUnavailable = errors.New("frame document not available (out-of-process or detached frame)")

// documentFunc yields the node id of a frame's document. It runs inside a CDP
// executor context.
type documentFunc func(ctx context.Context) (cdp.NodeID, error)

// pageDocument requests the top-level document. Requesting it again on every
// query keeps node ids valid across navigations.
func pageDocument(ctx context.Context) (cdp.NodeID, error) {
	node, err := dom.GetDocument().WithDepth(0).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("get document: %w", err)
	}
	return node.NodeID, nil
}

// contentDocument describes host through the DOM domain, which sees every
// document rendered in this process regardless of origin. Elements that host
// no document, including out-of-process frames, yield nil.
func contentDocument(ctx context.Context, host cdp.BackendNodeID) (*cdp.Node, error) {
	node, err := dom.DescribeNode().WithBackendNodeID(host).WithDepth(1).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe node %d: %w", host, err)
	}
	return node.ContentDocument, nil
}

// frameDocument pushes the current content document of host to the DOM agent.
// Node ids are only valid after the top-level document was requested, which
// the resolver's root-to-leaf walk guarantees.
func frameDocument(host cdp.BackendNodeID) documentFunc {
	return func(ctx context.Context) (cdp.NodeID, error) {
		doc, err := contentDocument(ctx, host)
		if err != nil {
			return 0, err
		}
		if doc == nil {
			return 0, errFrameDocumentUnavailable
		}
		ids, err := dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{doc.BackendNodeID}).Do(ctx)
		if err != nil {
			return 0, fmt.Errorf("push frame document: %w", err)
		}
		if len(ids) == 0 || ids[0] == 0 {
			return 0, errFrameDocumentUnavailable
		}
		return ids[0], nil
	}
}

// frame is a CDP-backed domapi.Frame. Matches are returned as backend node
// ids, so a query never leaves remote objects behind in the page.
type frame struct {
	s    *Session
	root documentFunc
}

var _ domapi.Frame = (*frame)(nil)

func (f *frame) QueryOne(ctx context.Context, selector string) (domapi.Element, error) {
	var found domapi.Element
	err := f.s.run(ctx, func(ctx context.Context) (err error) {
		found, err = f.queryOne(ctx, selector)
		return err
	})
	return found, err
}

func (f *frame) QueryAll(ctx context.Context, selector string) ([]domapi.Element, error) {
	var found []domapi.Element
	err := f.s.run(ctx, func(ctx context.Context) (err error) {
		found, err = f.queryAll(ctx, selector)
		return err
	})
	return found, err
}

func (f *frame) queryOne(ctx context.Context, selector string) (domapi.Element, error) {
	doc, err := f.root(ctx)
	if err != nil {
		return nil, err
	}
	id, err := dom.QuerySelector(doc, selector).Do(ctx)
	if err != nil || id == 0 {
		return nil, err
	}
	return f.element(ctx, id)
}

func (f *frame) queryAll(ctx context.Context, selector string) ([]domapi.Element, error) {
	doc, err := f.root(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := dom.QuerySelectorAll(doc, selector).Do(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]domapi.Element, 0, len(ids))
	for _, id := range ids {
		el, err := f.element(ctx, id)
		if err != nil {
			return nil, err
		}
		found = append(found, el)
	}
	return found, nil
}

func (f *frame) element(ctx context.Context, id cdp.NodeID) (*element, error) {
	node, err := dom.DescribeNode().WithNodeID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe node %d: %w", id, err)
	}
	return &element{s: f.s, id: node.BackendNodeID}, nil
}

// callFunction calls fn with this bound to the remote object id.
func callFunction(ctx context.Context, id runtime.RemoteObjectID, fn string, byValue bool) (*runtime.RemoteObject, error) {
	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(id).
		WithReturnByValue(byValue).
		WithAwaitPromise(true).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, exceptionError(exc)
	}
	return res, nil
}

// callValue calls fn and decodes its JSON-serializable result into out. An
// undefined result leaves out untouched.
func callValue(ctx context.Context, id runtime.RemoteObjectID, fn string, out interface{}) error {
	res, err := callFunction(ctx, id, fn, true)
	if err != nil {
		return err
	}
	if len(res.Value) == 0 {
		return nil
	}
	if err := jsoniter.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decode result: %w (payload: %s)", err, string(res.Value))
	}
	return nil
}

func exceptionError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	return fmt.Errorf("script exception: %s", msg)
}

// jsLiteral encodes v as a JavaScript literal for embedding in a function
// declaration.
func jsLiteral(v interface{}) string {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
