package httpjson

import (
	"encoding/json"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func Write(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err with its classified status, name and fixed public
// message. The error text itself is never sent.
func WriteError(w http.ResponseWriter, err error) {
	status := autherrors.HTTPStatus(err)
	Write(w, status, ErrorBody{
		Status:  status,
		Name:    autherrors.Name(err),
		Message: autherrors.PublicMessage(err),
	})
}
