package cmshttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/media"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

var errMissingDeps = xerrors.New("cmshttp: auth provider and content store are required")

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Warn(r.Context(), "failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}

// fail maps err onto a status. Client errors carry their message, anything
// unrecognised is logged and reported as a 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, "invalid or expired session")
	case errors.Is(err, auth.ErrUnsupportedProvider):
		writeError(w, http.StatusNotFound, "unsupported oauth provider")
	case errors.Is(err, xerrors.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, xerrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, xerrors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, xerrors.ErrInvalid), errors.Is(err, media.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		log.FromContext(r.Context()).Error(r.Context(), err, "request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a single JSON object, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return xerrors.Mark(xerrors.ErrInvalid, "invalid JSON body: %v", err)
	}
	return nil
}

func idParam(r *http.Request) (uint, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || n == 0 {
		return 0, xerrors.Mark(xerrors.ErrInvalid, "id must be a positive integer")
	}
	return uint(n), nil
}
