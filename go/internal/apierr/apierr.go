// Package apierr is the JSON error envelope shared by the gateway and its
// clients.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcdev12/duelpad/go/clients"
)

const (
	CodeBadRequest         = "bad_request"
	CodeValidation         = "validation"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodePermissionDenied   = "permission_denied"
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailTaken         = "email_taken"
	CodeTokenExpired       = "token_expired"
	CodeTokenRevoked       = "token_revoked"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
)

// Error is the body of every non-2xx gateway response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Write sends the envelope with the given status.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Error{Code: code, Message: message})
}

// Decode turns a client status error back into an *Error. Bodies that are
// not envelopes keep the raw text as the message.
func Decode(err error) (*Error, bool) {
	var se *clients.StatusError
	if !errors.As(err, &se) {
		return nil, false
	}
	out := &Error{Status: se.StatusCode}
	if json.Unmarshal([]byte(se.Body), out) != nil || out.Code == "" {
		out.Code = codeForStatus(se.StatusCode)
		out.Message = se.Body
	}
	return out, true
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
