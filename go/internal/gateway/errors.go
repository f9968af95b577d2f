package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/duelpad/go/internal/apierr"
	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/decks"
	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/users"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{docstore.ErrNotFound, http.StatusNotFound, apierr.CodeNotFound},
	{duel.ErrNotFound, http.StatusNotFound, apierr.CodeNotFound},
	{decks.ErrNotFound, http.StatusNotFound, apierr.CodeNotFound},
	{users.ErrNotFound, http.StatusNotFound, apierr.CodeNotFound},
	{docstore.ErrConflict, http.StatusConflict, apierr.CodeConflict},
	{duel.ErrPermissionDenied, http.StatusForbidden, apierr.CodePermissionDenied},
	{decks.ErrPermissionDenied, http.StatusForbidden, apierr.CodePermissionDenied},
	{users.ErrEmailTaken, http.StatusConflict, apierr.CodeEmailTaken},
	{users.ErrInvalidCredentials, http.StatusUnauthorized, apierr.CodeInvalidCredentials},
	{auth.ErrExpiredToken, http.StatusUnauthorized, apierr.CodeTokenExpired},
	{auth.ErrRevokedToken, http.StatusUnauthorized, apierr.CodeTokenRevoked},
	{auth.ErrInvalidToken, http.StatusUnauthorized, apierr.CodeUnauthenticated},
	{duel.ErrValidation, http.StatusBadRequest, apierr.CodeValidation},
	{decks.ErrValidation, http.StatusBadRequest, apierr.CodeValidation},
	{users.ErrValidation, http.StatusBadRequest, apierr.CodeValidation},
}

// writeError maps err onto a status and envelope. Unknown errors are
// logged and reported as internal without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			apierr.Write(w, e.status, e.code, err.Error())
			return
		}
	}
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	apierr.Write(w, http.StatusInternalServerError, apierr.CodeInternal, "internal error")
}

func badRequest(w http.ResponseWriter, message string) {
	apierr.Write(w, http.StatusBadRequest, apierr.CodeBadRequest, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(v)
}
