package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"live-quiz-service/internal/app"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type registerPayload struct {
	Nickname string `json:"nickname"`
	AvatarID string `json:"avatarId"`
}

type answerPayload struct {
	ChoiceID string `json:"choiceId"`
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

type teamPayload struct {
	TeamID string `json:"teamId"`
}

var (
	errUnsupported = errors.New("unsupported message type")
	errBadPayload  = errors.New("invalid payload")
)

// PlayWS handles GET /ws/games/{id}/play. The token query parameter is
// optional; a device without one gets an identity when it registers.
func (h *Handler) PlayWS(w http.ResponseWriter, r *http.Request) {
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

	session, err := h.service.OpenParticipant(ctx, gameID, token, conn)
	if err != nil {
		conn.sendError(ctx, err)
		return
	}
	log := h.log.With("gameId", gameID, "role", "participant")
	log.Debugw("participant connected")

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
		if err := dispatchPlay(ctx, session, msg); err != nil {
			conn.sendError(ctx, err)
		}
	})
	cancel()
	if err := g.Wait(); err != nil {
		log.Warnw("participant session ended", "error", err)
	}
	log.Debugw("participant disconnected")
}

func dispatchPlay(ctx context.Context, s *app.ParticipantSession, msg inboundMessage) error {
	switch msg.Type {
	case "register":
		var p registerPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.Register(ctx, p.Nickname, p.AvatarID)
	case "answer":
		var p answerPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.SubmitAnswer(ctx, p.ChoiceID)
	case "reaction":
		var p reactionPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.SendReaction(ctx, p.Emoji)
	case "team":
		var p teamPayload
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.JoinTeam(ctx, p.TeamID)
	default:
		return errUnsupported
	}
}

// readLoop hands every inbound message to handle until the socket fails.
func readLoop(ws *websocket.Conn, handle func(inboundMessage)) {
	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		handle(msg)
	}
}

func decodePayload(msg inboundMessage, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: missing %s payload", errBadPayload, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errBadPayload, msg.Type, err)
	}
	return nil
}
