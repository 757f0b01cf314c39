package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// Response is the JSON envelope every API handler writes. Successful calls
// carry their payload in Data; failures carry a short Message and, when the
// underlying error adds detail, an Error string.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteSuccess writes a 200 envelope with the given message and payload.
func WriteSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeEnvelope(w, http.StatusOK, Response{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

// WriteError writes an error envelope with the given status code. detail may
// be empty; when set it is surfaced in the envelope's error field.
func WriteError(w http.ResponseWriter, status int, message, detail string) {
	writeEnvelope(w, status, Response{
		Status:  "error",
		Message: message,
		Error:   detail,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode json response: %v", err)
	}
}

// MethodNotAllowed writes a 405 Method Not Allowed envelope.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "")
}

// BadRequest writes a 400 Bad Request envelope with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg, "")
}

// InternalServerError writes a 500 Internal Server Error envelope.
func InternalServerError(w http.ResponseWriter, msg, detail string) {
	WriteError(w, http.StatusInternalServerError, msg, detail)
}

// NotFound writes a 404 Not Found envelope.
func NotFound(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusNotFound, msg, "")
}
