// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/dispatcher"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidKeyID   = errors.New("invalid key id")
	ErrInternalError  = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBodyTooLarge   = errors.New("request body too large")
)

// ErrorResponse is the body of every non-dispatch error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	writeErrorWithMessage(w, err, "", statusCode)
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   err.Error(),
		Message: message,
		Code:    statusCode,
	}

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		log.Printf("Failed to encode error response: %v", encErr)
	}
}

// mapErrorToStatusCode maps errors to HTTP status codes.
func mapErrorToStatusCode(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, keyring.ErrKeyNotFound),
		errors.Is(err, permission.ErrNotRegistered),
		errors.Is(err, permission.ErrAccountNotFound),
		errors.Is(err, continuation.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidKeyID),
		errors.Is(err, types.ErrInvalidKeyID),
		errors.Is(err, types.ErrInvalidCaller),
		errors.Is(err, permission.ErrInvalidAccount),
		errors.Is(err, continuation.ErrConflictingInput),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, keyring.ErrInvalidKeyData):
		return http.StatusBadRequest
	case errors.As(err, &maxErr), errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dispatcher.ErrForeignToken),
		errors.Is(err, permission.ErrFingerprintMismatch),
		errors.Is(err, keyring.ErrBadPassphrase),
		errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, keyring.ErrNoSecretKey):
		return http.StatusConflict
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the response.
func handleError(w http.ResponseWriter, err error) {
	writeError(w, err, mapErrorToStatusCode(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
