package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/pkg/wsrouter"
)

func (c *Controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Get("/stats", c.getStats)
		r.Get("/ws", c.serveWs)
		r.Get("/rooms/{room-id}", c.getRoom)
		r.Put("/rooms/{room-id}", c.putRoom)
		r.Delete("/rooms/{room-id}", c.deleteRoom)
	})

	return r
}

func (c *Controller) getWSRouter() *wsrouter.WSRouter[*wsMessage] {
	mux := wsrouter.New[*wsMessage]()

	mux.Use(c.loggerWSMw())

	mux.Handle(string(protocol.TypeJoin), c.handleJoin)
	mux.Handle(string(protocol.TypeLeave), c.handleLeave)
	mux.Handle(string(protocol.TypeStateUpdate), c.handleStateUpdate)

	return mux
}
