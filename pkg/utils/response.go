package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tasker-backend/pkg/apperr"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// StepError is implemented by errors that know which workflow step failed.
type StepError interface {
	error
	StepName() string
}

const sessionRemediation = "Your session could not be restored. Refresh the page and sign in again."

func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("encode error response", "error", err)
	}
}

func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, string(apperr.InvalidInput), message, nil)
}

func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, string(apperr.Internal), message, nil)
}

// WriteAppError maps an application error onto the envelope. Terminal session
// errors carry the remediation; workflow errors name the failed step.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	details := map[string]interface{}{}

	var stepErr StepError
	if errors.As(err, &stepErr) {
		details["step"] = stepErr.StepName()
	}
	if apperr.Terminal(code) {
		details["terminal"] = true
		details["remediation"] = sessionRemediation
	}

	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}

	var d interface{}
	if len(details) > 0 {
		d = details
	}
	WriteErrorResponseWithCode(w, status, string(code), apperr.MessageOf(err), d)
}

// ParseJSONBody decodes the request body into v
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
