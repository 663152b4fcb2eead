package api

import (
	"encoding/json"
	"net/http"

	"sdx/internal/errors"
)

// SuccessResponse is the wire envelope for successful responses.
type SuccessResponse struct {
	Status string      `json:"status"`
	Count  *int        `json:"count,omitempty"`
	Data   interface{} `json:"data"`
}

// ErrorResponse is the wire envelope for failures.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// writeData writes a success envelope without a count.
func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SuccessResponse{Status: "success", Data: data})
}

// writeList writes a success envelope carrying a result count.
func writeList(w http.ResponseWriter, count int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SuccessResponse{Status: "success", Count: &count, Data: data})
}

// writeError maps the error's code to an HTTP status and writes the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForCode(code))
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Code:    string(code),
		Message: err.Error(),
	})
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Status: "error", Message: message})
}

// statusForCode maps error codes to HTTP status codes
func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.InvalidFilter, errors.ConventionViolation,
		errors.MetadataInvalid, errors.MetadataMalformed:
		return http.StatusBadRequest // 400
	case errors.Forbidden:
		return http.StatusForbidden // 403
	case errors.NotFound:
		return http.StatusNotFound // 404
	case errors.ScanInFlight:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}
