package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthbox/hearth/internal/core"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func asAppError(err error) *core.AppError {
	var app *core.AppError
	if errors.As(err, &app) {
		return app
	}
	return core.NewAppError(core.ErrInternal, err.Error())
}
