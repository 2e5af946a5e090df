package http

import (
	"errors"
	"io"
	"net/http"
	"regexp"

	"live-quiz-service/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	imageBucket   = "quiz-images"
	maxImageBytes = 5 << 20
	defaultFolder = "questions"
)

var folderPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

var imageExts = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type uploadResponse struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	URL    string `json:"url"`
}

// UploadImage handles POST /images. The multipart form carries the image
// as "file" and an optional "folder".
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	folder := r.FormValue("folder")
	if folder == "" {
		folder = defaultFolder
	}
	if !folderPattern.MatchString(folder) {
		writeError(w, http.StatusBadRequest, "invalid folder")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}
	if len(data) > maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExts[contentType]
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported image type "+contentType)
		return
	}

	name := folder + "/" + uuid.NewString() + ext
	if err := h.blobs.Upload(r.Context(), imageBucket, name, contentType, data); err != nil {
		h.log.Errorw("image upload failed", "path", name, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Bucket: imageBucket,
		Path:   name,
		URL:    h.blobs.PublicURL(imageBucket, name),
	})
}

// ServeBlob handles GET /blobs/{bucket}/{path}.
func (h *Handler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, contentType, err := h.blobs.Open(r.Context(), vars["bucket"], vars["path"])
	if errors.Is(err, domain.ErrBlobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	io.Copy(w, body)
}
