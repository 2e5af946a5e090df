package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"live-quiz-service/internal/app"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler serves the game websockets and the supporting HTTP endpoints.
type Handler struct {
	service   *app.GameService
	blobs     app.Blobs
	publicURL string
	log       *zap.SugaredLogger
	upgrader  websocket.Upgrader
}

func NewHandler(service *app.GameService, blobs app.Blobs, publicURL string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		service:   service,
		blobs:     blobs,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewRouter mounts every route of the service.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/games", h.CreateGame).Methods(http.MethodPost)
	r.HandleFunc("/games/{id}/qr.png", h.JoinQR).Methods(http.MethodGet)
	r.HandleFunc("/images", h.UploadImage).Methods(http.MethodPost)
	r.HandleFunc("/blobs/{bucket}/{path:.*}", h.ServeBlob).Methods(http.MethodGet)

	r.HandleFunc("/ws/games/{id}/play", h.PlayWS).Methods(http.MethodGet)
	r.HandleFunc("/ws/games/{id}/host", h.HostWS).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
