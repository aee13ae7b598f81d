// ABOUTME: Business-logic contract: a Handler turns one request into one response
// ABOUTME: A HandlerFactory supplies a fresh Handler for every non-duplicate message

package messaging

import (
	"context"

	"github.com/2389/wxcallback/internal/message"
)

// Handler produces the reply for a request. It runs at most once per
// deduplication key while the key is retained. A Handler that also
// implements io.Closer is closed after it returns.
type Handler interface {
	Handle(ctx context.Context, req *message.Request) (message.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *message.Request) (message.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *message.Request) (message.Response, error) {
	return f(ctx, req)
}

// HandlerFactory creates a Handler for one new message.
type HandlerFactory interface {
	NewHandler() Handler
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func() Handler

func (f HandlerFactoryFunc) NewHandler() Handler {
	return f()
}

// Singleton returns a factory that hands out h every time. h must be safe
// for concurrent use.
func Singleton(h Handler) HandlerFactory {
	return HandlerFactoryFunc(func() Handler { return h })
}
