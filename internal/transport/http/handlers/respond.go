package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/huddle/pkg/apperr"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErrorBody(w http.ResponseWriter, status int, code string, message string, fields map[string]string) {
	body := map[string]any{"code": code, "message": message}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, map[string]any{"error": body})
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindAuthorization: http.StatusForbidden,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindConflict:      http.StatusConflict,
	apperr.KindDecryption:    http.StatusInternalServerError,
	apperr.KindInternal:      http.StatusInternalServerError,
}

// writeError maps a service error onto the error envelope. Internal and
// decryption failures are logged and reported without their cause.
func writeError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindInternal || e.Kind == apperr.KindDecryption {
		log.Error(op, zap.Error(err))
		code := apperr.KindInternal
		if e != nil {
			code = e.Kind
		}
		writeErrorBody(w, http.StatusInternalServerError, string(code), "Something went wrong", nil)
		return
	}
	writeErrorBody(w, statusByKind[e.Kind], string(e.Kind), e.Message, e.Fields)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, string(apperr.KindValidation), "Invalid ID",
			map[string]string{name: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body", nil)
		return false
	}
	return true
}

// pageParams reads ?limit= and ?cursor=. A missing limit is 0 so the
// service applies its default.
func pageParams(w http.ResponseWriter, r *http.Request) (limit int, cursor *uuid.UUID, ok bool) {
	q := r.URL.Query()
	fields := map[string]string{}

	if s := q.Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 {
			fields["limit"] = "must be a positive integer"
		}
		limit = l
	}
	if s := q.Get("cursor"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fields["cursor"] = "must be a UUID"
		}
		cursor = &id
	}

	if len(fields) > 0 {
		writeErrorBody(w, http.StatusBadRequest, string(apperr.KindValidation), "Invalid pagination parameters", fields)
		return 0, nil, false
	}
	return limit, cursor, true
}
