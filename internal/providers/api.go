package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/classwatch/internal/concept"
	"github.com/roach88/classwatch/internal/ir"
)

// RefReply is the handle kind for reply callbacks.
const RefReply = "reply"

// ReplyFunc delivers a response body for a request.
type ReplyFunc func(request string, body ir.IRObject, contentType string)

// ReplyRef wraps a callback as a handle value. The id distinguishes
// otherwise identical request records.
func ReplyRef(id string, fn ReplyFunc) ir.IRRef {
	return ir.NewIRRef(RefReply, id, fn)
}

// API turns inbound HTTP requests into action records and hands rule
// responses back to the waiting caller.
type API struct {
	*concept.Table
	base

	mu        sync.Mutex
	callbacks map[string]ReplyFunc
}

// NewAPI creates the API provider.
func NewAPI(opts ...Option) *API {
	a := &API{base: newBase(opts), callbacks: make(map[string]ReplyFunc)}
	a.Table = concept.MustDefine("API", "Bridges HTTP requests and rule responses.",
		concept.Action("request", a.request,
			concept.Args(
				concept.Arg("callback", "ref"),
				concept.Arg("path", "string"),
				concept.Arg("method", "string"),
				concept.Opt("params", "object"),
			),
			concept.Arg("request", "string")),
		concept.Action("respond", a.respond,
			concept.Args(
				concept.Arg("request", "string"),
				concept.Arg("body", "object"),
				concept.Opt("contentType", "string"),
			),
			concept.Arg("request", "string")),
	)
	return a
}

func (a *API) request(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	ref, _ := in.GetRef("callback")
	if ref.Kind != RefReply {
		return nil, fmt.Errorf("callback is a %s handle, want %s", ref.Kind, RefReply)
	}
	fn, ok := ref.Value.(ReplyFunc)
	if !ok || fn == nil {
		return nil, fmt.Errorf("callback handle %s holds no function", ref.ID)
	}

	id := a.newID()
	a.mu.Lock()
	a.callbacks[id] = fn
	a.mu.Unlock()
	return ir.IRObject{"request": ir.IRString(id)}, nil
}

// respond hands body to the request's callback. A missing callback or one
// that panics is logged; the record is still appended.
func (a *API) respond(_ context.Context, in ir.IRObject) (ir.IRObject, error) {
	id, _ := in.GetString("request")
	body, _ := in.GetObject("body")
	contentType, ok := in.GetString("contentType")
	if !ok {
		contentType = "application/json"
	}

	a.mu.Lock()
	fn, ok := a.callbacks[id]
	a.mu.Unlock()

	if !ok {
		a.logger.Warn("response for unknown request", "request", id)
	} else {
		a.deliver(fn, id, body, contentType)
	}
	return ir.IRObject{"request": ir.IRString(id)}, nil
}

func (a *API) deliver(fn ReplyFunc, id string, body ir.IRObject, contentType string) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("reply callback panicked", "request", id, "panic", r)
		}
	}()
	fn(id, body, contentType)
}

// Release drops the callback for a request once its caller stops waiting.
func (a *API) Release(request string) {
	a.mu.Lock()
	delete(a.callbacks, request)
	a.mu.Unlock()
}

// Pending reports how many requests still hold a callback.
func (a *API) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.callbacks)
}
