// Package httputil provides the JSON envelope writers, request parsing helpers
// and generic middleware used by the tally HTTP API.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body shape of every API response
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteEnvelope writes {status, message, data} with status mirrored in the HTTP code
func WriteEnvelope(w http.ResponseWriter, status int, message string, data interface{}) error {
	return WriteJSON(w, status, Envelope{Status: status, Message: message, Data: data})
}

// WriteSuccess writes a 200 envelope
func WriteSuccess(w http.ResponseWriter, message string, data interface{}) error {
	return WriteEnvelope(w, http.StatusOK, message, data)
}

// WriteCreated writes a 201 envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) error {
	return WriteEnvelope(w, http.StatusCreated, message, data)
}

// WriteErrorMessage writes an error envelope with no data
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteEnvelope(w, status, message, nil)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteUnprocessable writes a validation error (422)
func WriteUnprocessable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnprocessableEntity, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a generic 500. The cause is never echoed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error")
}
