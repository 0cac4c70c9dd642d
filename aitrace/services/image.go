package services

import (
	"aitrace_platform/aitrace/rows"
	"aitrace_platform/aitrace/utils"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ImageService lets the ui show images before a row is created for them.
type ImageService struct {
	fetcher rows.ImageFetcher
}

func (s *ImageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/preview", s.Preview)

	return r
}

func (s *ImageService) Preview(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		utils.WriteError(w, "", utils.Validationf("missing url query parameter"))
		return
	}
	if !isHttpUrl(url) {
		utils.WriteError(w, "", utils.Validationf("only http(s) urls can be previewed"))
		return
	}

	data, err := s.fetcher.Fetch(r.Context(), url)
	if err != nil {
		slog.Warn("image preview failed", "url", url, "error", err)
		utils.WriteError(w, "unable to load image", utils.Validation(err))
		return
	}

	writeImage(w, data)
}
