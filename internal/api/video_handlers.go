package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/videos"
)

// ListVideos searches when q is set and narrows by category when category is
// set. Either may be omitted.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	category := r.URL.Query().Get("category")

	var (
		list []entities.Video
		err  error
	)
	if q != "" {
		list, err = h.videos.SearchVideos(r.Context(), q)
	} else {
		list, err = h.videos.GetVideosByCategory(r.Context(), category)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if q != "" && category != "" && category != videos.CategoryAll {
		filtered := list[:0]
		for _, v := range list {
			if v.Category == category {
				filtered = append(filtered, v)
			}
		}
		list = filtered
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ListVideoCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.videos.GetVideoCategories(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, VideoCategoriesResponse{Categories: categories})
}

func (h *Handler) ListRelevantVideos(w http.ResponseWriter, r *http.Request) {
	stressType := entities.StressType(chi.URLParam(r, "stressType"))
	if !stressType.Valid() {
		h.writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "unknown stress type")
		return
	}

	list, err := h.videos.GetRelevantVideos(r.Context(), stressType)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) IncrementVideoViews(w http.ResponseWriter, r *http.Request) {
	if err := h.videos.IncrementVideoViews(r.Context(), chi.URLParam(r, "videoID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
