package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"live-quiz-service/internal/domain"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

type createGameResponse struct {
	GameID    string `json:"gameId"`
	QuizSetID string `json:"quizSetId"`
	HostToken string `json:"hostToken"`
	JoinURL   string `json:"joinUrl"`
}

// CreateGame handles POST /games with a quiz set as body. It answers with
// the new game and the token of its host identity.
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var qs domain.QuizSet
	if err := json.NewDecoder(r.Body).Decode(&qs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for i := range qs.Questions {
		qs.Questions[i].Order = i
	}
	game, host, err := h.service.HostGame(r.Context(), qs)
	if err != nil {
		h.log.Warnw("host game failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createGameResponse{
		GameID:    game.ID,
		QuizSetID: game.QuizSetID,
		HostToken: host.Token,
		JoinURL:   h.joinURL(game.ID),
	})
}

func (h *Handler) joinURL(gameID string) string {
	return h.publicURL + "/game/" + gameID
}

// JoinQR handles GET /games/{id}/qr.png with a QR code of the join link.
func (h *Handler) JoinQR(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	if _, err := h.service.Game(r.Context(), gameID); err != nil {
		if errors.Is(err, domain.ErrGameNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	png, err := qrcode.Encode(h.joinURL(gameID), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(png)
}
