package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/entranthq/server/internal/api/problem"
	"github.com/entranthq/server/internal/domain/ids"
	"github.com/go-playground/validator/v10"
)

// Problem type URIs for the API's RFC 7807 responses.
const (
	typeValidationError = "https://entranthq.com/problems/validation-error"
	typeNotFound        = "https://entranthq.com/problems/not-found"
	typeConflict        = "https://entranthq.com/problems/conflict"
	typeForbidden       = "https://entranthq.com/problems/forbidden"
	typeServerError     = "https://entranthq.com/problems/server-error"
	typeGatewayError    = "https://entranthq.com/problems/gateway-error"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathParam(r *http.Request, key string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.PathValue(key))
}

// FieldError reports a validation failure on a single request field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// decodeJSON decodes the request body into dst and runs struct validation.
// Unknown fields are rejected so client typos surface as errors instead of
// silently dropped options.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return FieldError{Field: "body", Message: "missing"}
		}
		return FieldError{Field: "body", Message: err.Error()}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return FieldError{
				Field:   strings.ToLower(first.Field()),
				Message: fmt.Sprintf("failed %q validation", first.Tag()),
			}
		}
		return err
	}
	return nil
}

// requireULID extracts and validates a ULID path parameter, writing a
// validation problem on failure.
func requireULID(w http.ResponseWriter, r *http.Request, name, env string) (string, bool) {
	value := pathParam(r, name)
	if value == "" {
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", FieldError{Field: name, Message: "missing"}, env)
		return "", false
	}
	if err := ids.ValidateULID(value); err != nil {
		problem.Write(w, r, http.StatusBadRequest, typeValidationError, "Invalid request", FieldError{Field: name, Message: "invalid ULID"}, env)
		return "", false
	}
	return value, true
}
