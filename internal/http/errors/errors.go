// Package errors writes JSON error responses with a machine-checkable error
// code and a human-readable message, logging server-side detail with the
// request ID.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSON writes an error response with the given status, code, and message.
func JSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

// Internal logs the underlying error with the request ID and returns a
// generic 500 body to the client.
func Internal(w http.ResponseWriter, r *http.Request, err error, message string) {
	zap.L().Error(message,
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	JSON(w, http.StatusInternalServerError, "Internal Server Error", message)
}

// BadRequest logs the rejected input and returns the client-safe message.
func BadRequest(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	zap.L().Warn("bad request",
		zap.String("requestId", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	JSON(w, http.StatusBadRequest, "Bad Request", clientMessage)
}

// Unauthorized returns a 401 with the standard unauthenticated body.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	JSON(w, http.StatusUnauthorized, "Unauthorized", message)
}
