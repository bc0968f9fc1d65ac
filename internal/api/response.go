package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Success builds a success envelope with an optional result payload.
func Success(result any) Response {
	return Response{Status: "ok", Result: result}
}

// Ignored marks a valid webhook that carried nothing actionable.
func Ignored() Response {
	return Response{Status: "ignored"}
}

// Error builds an error envelope.
func Error(msg string) Response {
	return Response{Status: "error", Error: msg}
}

// Pre-marshaled fallback so a marshal failure still yields valid JSON.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(Error("internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals first so encoding errors are caught before any
// headers are written.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server failed to write JSON response", "error", writeErr)
	}
}
