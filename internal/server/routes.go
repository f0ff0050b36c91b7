package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/boardsync/internal/api/v1"
	"github.com/gosuda/boardsync/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterChangeRoutes(api, deps.Dispatcher)
	v1.RegisterConnectionRoutes(api, deps.Stats)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/websocket", hub.ServeRealtime)
}
