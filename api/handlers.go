package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"limix_backend/health"
	"limix_backend/models"
	"limix_backend/telemetry"
)

const (
	// DashboardWindow is the number of samples the dashboard averages over
	DashboardWindow = 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Handler serves the read endpoints over the telemetry store and the fish
// health upload
type Handler struct {
	Store          telemetry.Store
	Pipeline       *health.Pipeline
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// Index lists the available endpoints
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"message": "🐟 Limix API",
		"version": "1.0",
		"endpoints": map[string]string{
			"/api/sensor/latest":       "Latest sensor reading",
			"/api/sensor/history":      "Recent sensor readings (?limit=N)",
			"/api/fish-type/latest":    "Latest fish species recommendation",
			"/api/fish-health/latest":  "Fish health check (POST multipart image)",
			"/api/fish-health/history": "Recent fish health results (?limit=N)",
			"/api/dashboard":           "Current reading, averages, history and recommendation",
			"/health":                  "Service health",
			"/metrics":                 "Prometheus metrics",
		},
	})
}

// SensorLatest returns the most recent sensor sample
func (h *Handler) SensorLatest(w http.ResponseWriter, r *http.Request) {
	samples, err := telemetry.LatestSamples(r.Context(), h.Store, 1)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	if len(samples) == 0 {
		RespondWithError(w, http.StatusNotFound, "no sensor data yet")
		return
	}
	RespondWithData(w, samples[0])
}

// SensorHistory returns recent sensor samples, oldest first
func (h *Handler) SensorHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples, err := telemetry.LatestSamples(r.Context(), h.Store, limit)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	RespondWithData(w, samples)
}

// FishTypeLatest returns the most recent recommendation
func (h *Handler) FishTypeLatest(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := telemetry.LatestRecommendation(r.Context(), h.Store)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	if !ok {
		RespondWithError(w, http.StatusNotFound, "no recommendation yet")
		return
	}
	RespondWithData(w, rec)
}

// FishHealthClassify classifies the uploaded "image" form file
func (h *Handler) FishHealthClassify(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image larger than %d bytes", tooLarge.Limit))
			return
		}
		RespondWithErr(w, fmt.Errorf("%w: %v", health.ErrMissingInput, err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		RespondWithErr(w, fmt.Errorf("%w: no image uploaded", health.ErrMissingInput))
		return
	}
	defer file.Close()

	ctx := r.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}

	src := health.FromReader(header.Filename, header.Header.Get("Content-Type"), file)
	result, err := h.Pipeline.Classify(ctx, src)
	switch {
	case errors.Is(err, health.ErrPersist):
		RespondWithJSON(w, http.StatusOK, Response{Success: true, Data: result, Warning: err.Error()})
	case err != nil:
		RespondWithErr(w, err)
	default:
		RespondWithData(w, result)
	}
}

// FishHealthHistory returns recent health results, oldest first
func (h *Handler) FishHealthHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := telemetry.LatestHealthResults(r.Context(), h.Store, limit)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	RespondWithData(w, results)
}

// Dashboard is everything the mobile app shows on its home screen
type Dashboard struct {
	Current        models.SensorSample    `json:"current"`
	Averages       telemetry.Averages     `json:"averages"`
	History        []models.SensorSample  `json:"history"`
	Recommendation *models.Recommendation `json:"recommendation"`
}

// Dashboard returns the latest sample, averages and history over the last
// DashboardWindow samples, and the latest recommendation or null
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	history, err := telemetry.LatestSamples(r.Context(), h.Store, DashboardWindow)
	if err != nil {
		RespondWithErr(w, err)
		return
	}

	d := Dashboard{History: history, Averages: telemetry.Average(history)}
	if len(history) > 0 {
		d.Current = history[len(history)-1]
	}

	rec, ok, err := telemetry.LatestRecommendation(r.Context(), h.Store)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	if ok {
		d.Recommendation = &rec
	}
	RespondWithData(w, d)
}

// Health reports liveness and whether the fish health model is loaded
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	loaded := h.Pipeline != nil && h.Pipeline.Model != nil && h.Pipeline.Model.Loaded()
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": loaded,
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}
