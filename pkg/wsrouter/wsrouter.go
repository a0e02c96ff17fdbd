package wsrouter

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoHandler = errors.New("no handler for message type")

type HandlerFunc[T any] func(ctx context.Context, msg T) error

type Middleware[T any] func(next HandlerFunc[T]) HandlerFunc[T]

// WSRouter dispatches decoded websocket messages by their type.
// Routes and middlewares must be registered before the first Route call.
type WSRouter[T any] struct {
	routes      map[string]HandlerFunc[T]
	middlewares []Middleware[T]
}

func New[T any]() *WSRouter[T] {
	return &WSRouter[T]{routes: make(map[string]HandlerFunc[T])}
}

// Use appends middlewares. The first one registered is the outermost.
func (r *WSRouter[T]) Use(mws ...Middleware[T]) {
	r.middlewares = append(r.middlewares, mws...)
}

func (r *WSRouter[T]) Handle(messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = handler
}

func (r *WSRouter[T]) Route(ctx context.Context, messageType string, msg T) error {
	handler, ok := r.routes[messageType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, messageType)
	}

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	return handler(context.WithValue(ctx, messageTypeKey, messageType), msg)
}
