package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/tournament"
	"github.com/scrimspot/roomsync-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, wsDeps ws.Deps, creds tournament.CredentialSource, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(h, logger))
	r.Get("/rooms/{roomID}", GetRoom(h))
	r.Post("/rooms/{roomID}/lock", LockRoom(h))
	r.Post("/rooms/{roomID}/credentials", ReleaseCredentials(h, creds))
	r.Delete("/rooms/{roomID}", RemoveRoom(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(wsDeps))
	return r
}
