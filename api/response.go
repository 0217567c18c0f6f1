package api

import (
	"encoding/json"
	"net/http"

	"limix_backend/apperr"
	"limix_backend/logger"
)

// Response is the envelope of every API answer
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RespondWithJSON sends a JSON response with the given status
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode JSON response: %v\n", err)
	}
}

// RespondWithData sends a successful envelope
func RespondWithData(w http.ResponseWriter, data any) {
	RespondWithJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// RespondWithError sends a failed envelope with the given status
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, Response{Success: false, Error: message})
}

// RespondWithErr maps err to a status by its kind
func RespondWithErr(w http.ResponseWriter, err error) {
	RespondWithError(w, StatusFor(err), err.Error())
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNone:
		return http.StatusOK
	case apperr.KindInput:
		return http.StatusBadRequest
	case apperr.KindDependency, apperr.KindModelNotLoaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
