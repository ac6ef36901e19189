// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write error is acceptable, client may disconnect
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure it writes a
// 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err := dec.Decode(dst); err != nil {
		h.logger.DebugContext(r.Context(), "malformed request body", "operation", op, "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			h.logger.ErrorContext(r.Context(), "request validation failed", "operation", op, "error", err)
			writeError(w, http.StatusBadRequest, msgInvalidRequest)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		h.logger.DebugContext(r.Context(), "request rejected by validation",
			slog.String("operation", op), slog.Any("fields", fields))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest, Fields: fields})
		return false
	}
	return true
}
