// Package httpapi wires the public endpoints onto a chi router:
// get-formats, start-download, download-status, the SSE download-events
// stream, cancel, get-video delivery, and per-user history. Handlers
// translate between the wire and the orchestrator; none of them touch
// Redis keys directly.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/clipreach/downorch/internal/constants"
	"github.com/clipreach/downorch/internal/delivery"
	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/kvstore"
	"github.com/clipreach/downorch/internal/logger"
	"github.com/clipreach/downorch/internal/orchestrator"
	"github.com/clipreach/downorch/internal/progressbus"
	"github.com/clipreach/downorch/internal/ratelimit"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

const userCookieName = "user_id"

// API bundles the collaborators every handler needs: the orchestrator
// for lifecycle operations, the Gateway for the SSE handler's progress
// bus subscription, and a Streamer for the delivery endpoint.
type API struct {
	orch     *orchestrator.Orchestrator
	streamer *delivery.Streamer
	gw       *kvstore.Gateway
}

// New builds the API.
func New(orch *orchestrator.Orchestrator, streamer *delivery.Streamer, gw *kvstore.Gateway) *API {
	return &API{orch: orch, streamer: streamer, gw: gw}
}

// Router assembles the chi mux: CORS, a user_id cookie bootstrap, and
// every public route.
func Router(api *API, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	corsMw := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
	})
	r.Use(corsMw.Handler)
	r.Use(userCookieMiddleware)

	r.Post("/api/get-formats", api.handleGetFormats)
	r.Post("/api/start-download", api.handleStartDownload)
	r.Get("/api/download-status/{id}", api.handleDownloadStatus)
	r.Get("/api/download-events/{id}", api.handleDownloadEvents)
	r.Post("/api/cancel/{id}", api.handleCancel)
	r.Get("/api/get-video/{id}", api.handleGetVideo)
	r.Get("/user/{uuid}/history", api.handleHistory)

	return r
}

// userCookieMiddleware assigns an anonymous caller a user_id cookie on
// first contact. Once the cookie is sent back, its value is the caller's
// user id for both history and the per-user download lock; a request that
// carries no cookie (including the one that receives it) runs as the
// anonymous id, which is exempt from the lock.
func userCookieMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(userCookieName); errors.Is(err, http.ErrNoCookie) {
			http.SetCookie(w, &http.Cookie{
				Name:     userCookieName,
				Value:    uuid.NewString(),
				Path:     "/",
				MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(userCookieName)
	if err != nil || c.Value == "" {
		return constants.AnonymousUserID
	}
	return c.Value
}

type getFormatsRequest struct {
	URL string `json:"url"`
}

func (a *API) handleGetFormats(w http.ResponseWriter, r *http.Request) {
	if !ratelimit.FormatsLimiter.Allow() {
		writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req getFormatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := validate.MediaURL(req.URL); err != nil {
		writeAppErr(w, err)
		return
	}

	media, err := a.orch.ResolveFormats(r.Context(), req.URL)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, media)
}

type startDownloadRequest struct {
	URL            string `json:"url"`
	VideoVariantID string `json:"video_variant_id"`
	AudioVariantID string `json:"audio_variant_id"`
	StartSeconds   *int   `json:"start_seconds,omitempty"`
	EndSeconds     *int   `json:"end_seconds,omitempty"`
}

func (a *API) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if !ratelimit.StartDownloadLimiter.Allow() {
		writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := validate.MediaURL(body.URL); err != nil {
		writeAppErr(w, err)
		return
	}

	req := task.Request{
		URL:            body.URL,
		VideoVariantID: body.VideoVariantID,
		AudioVariantID: body.AudioVariantID,
		StartSeconds:   body.StartSeconds,
		EndSeconds:     body.EndSeconds,
	}

	userID := userIDFromRequest(r)
	t, err := a.orch.StartDownload(r.Context(), userID, req)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (a *API) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.TaskID(id); err != nil {
		writeAppErr(w, err)
		return
	}

	t, err := a.orch.GetStatus(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.TaskID(id); err != nil {
		writeAppErr(w, err)
		return
	}

	if err := a.orch.CancelDownload(r.Context(), id); err != nil {
		writeAppErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "uuid")

	tasks, err := a.orch.History(r.Context(), userID)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	snapshots := make([]task.Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, t.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (a *API) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.TaskID(id); err != nil {
		writeAppErr(w, err)
		return
	}

	t, err := a.orch.GetStatus(r.Context(), id)
	if err != nil {
		writeAppErr(w, err)
		return
	}

	f, size, err := a.streamer.Prepare(t)
	if err != nil {
		writeAppErr(w, err)
		return
	}
	defer f.Close()

	filename := validate.Filename(t.Media.Title) + extensionOf(t.FilePath)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Content-Disposition", delivery.AttachmentFilename(filename))
	w.WriteHeader(http.StatusOK)

	if err := a.streamer.Stream(r.Context(), t, w, f); err != nil {
		logger.Log.Warn().Err(err).Str("traceID", id).Msg("delivery stream did not complete")
	}
}

func (a *API) handleDownloadEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validate.TaskID(id); err != nil {
		writeAppErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, release, err := progressbus.Subscribe(r.Context(), a.gw, id)
	if err != nil {
		writeAppErr(w, apperr.NewWithMessage("httpapi.handleDownloadEvents", apperr.ErrNotFound, "unknown task id"))
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeAppErr(w http.ResponseWriter, err error) {
	var appErr *apperr.AppError
	msg := err.Error()
	if errors.As(err, &appErr) && appErr.Message != "" {
		msg = appErr.Message
	}
	writeErr(w, apperr.HTTPStatus(err), msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func extensionOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}
