package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"salonbook/backend/internal/failure"
)

type Data[T any] struct {
	Data T `json:"data"`
}

type Error struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type Message struct {
	Message string `json:"message"`
}

func WithJSON[T any](w http.ResponseWriter, code int, payload T) {
	write(w, code, Data[T]{Data: payload})
}

func WithMessage(w http.ResponseWriter, code int, message string) {
	write(w, code, Message{Message: message})
}

// WithError writes err using its failure kind. Internal details never reach
// the client.
func WithError(w http.ResponseWriter, err error) {
	if failure.KindOf(err) == failure.KindUpstream && failure.IsRetryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	write(w, failure.HTTPStatus(err), Error{
		Error:  failure.PublicMessage(err),
		Fields: failure.FieldsOf(err),
	})
}

func write(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
