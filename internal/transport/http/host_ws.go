package http

import (
	"context"
	"net/http"

	"live-quiz-service/internal/app"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

// HostWS handles GET /ws/games/{id}/host. The token must belong to the
// identity that created the game.
func (h *Handler) HostWS(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("ws upgrade failed", "error", err)
		return
	}
	conn := newWSConn(ws, h.log)
	defer conn.wait()
	defer conn.stop()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session, err := h.service.OpenHost(ctx, gameID, token, conn)
	if err != nil {
		conn.sendError(ctx, err)
		return
	}
	log := h.log.With("gameId", gameID, "role", "host")
	log.Infow("host connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := session.Run(gctx)
		if err != nil {
			conn.sendError(ctx, err)
		}
		conn.stop()
		return err
	})
	g.Go(func() error { return forwardViews(gctx, conn, session.Views()) })

	readLoop(ws, func(msg inboundMessage) {
		if err := dispatchHost(ctx, session, msg); err != nil {
			conn.sendError(ctx, err)
		}
	})
	cancel()
	if err := g.Wait(); err != nil {
		log.Warnw("host session ended", "error", err)
	}
	log.Infow("host disconnected")
}

func dispatchHost(ctx context.Context, s *app.HostSession, msg inboundMessage) error {
	switch msg.Type {
	case "start":
		return s.Start(ctx)
	case "next":
		return s.Next(ctx)
	case "autoAdvance":
		var p togglePayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.SetAutoAdvance(ctx, p.Enabled)
	case "readAloud":
		var p togglePayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.SetReadAloud(ctx, p.Enabled)
	default:
		return errUnsupported
	}
}
