package scheduler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"seopulse/internal/types"
)

const maxRequestBodySize = 1 << 20

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: errorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "failed to marshal response",
		}})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError renders err. AppErrors keep their code, message and details;
// anything else becomes an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := errorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		detail.Code, detail.Message, detail.Details = string(appErr.Code), appErr.Message, appErr.Details
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, errorResponse{Error: detail})
}

// decodeJSON reads one JSON object into dst. When allowEmpty is set an
// empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not be empty", err)
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
		}
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}
