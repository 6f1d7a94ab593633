package response

import (
	"encoding/json"
	"net/http"
)

// Status values used in response bodies besides the job states.
const (
	StatusError      = "error"
	StatusNotFound   = "not_found"
	StatusProcessing = "processing"
)

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

func OK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

// Error writes {"status":"error","message":...}.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Status: StatusError, Message: message})
}

// NotFound writes a 404 {"status":"not_found","message":...}.
func NotFound(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusNotFound, errorBody{Status: StatusNotFound, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
