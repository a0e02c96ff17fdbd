package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sharetube/playsync/pkg/ctxlogger"
	"github.com/sharetube/playsync/pkg/wsrouter"
)

func (c *Controller) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", c.generateId()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
		)
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) loggerWSMw() wsrouter.Middleware[*wsMessage] {
	return func(next wsrouter.HandlerFunc[*wsMessage]) wsrouter.HandlerFunc[*wsMessage] {
		return func(ctx context.Context, msg *wsMessage) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", msg.env.RoomId))
			c.logger.DebugContext(ctx, "websocket message received")

			start := time.Now()
			err := next(ctx, msg)

			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
				"error", err,
			)

			return err
		}
	}
}
