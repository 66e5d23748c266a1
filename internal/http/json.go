package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/openparcel/jobcore/internal/errors"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError to adhere to the ≤3 params guideline.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAppError maps an application error to its HTTP status and writes it.
// validation and unknown_job_type map to 400, not_found to 404, unavailable
// to 503, everything else to 500.
func WriteAppError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal"

	switch appCode := apperrors.GetCode(err); appCode {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeUnknownJobType:
		code = http.StatusBadRequest
		errCode = string(appCode)
	case apperrors.ErrCodeNotFound:
		code = http.StatusNotFound
		errCode = string(appCode)
	case apperrors.ErrCodeConflict:
		code = http.StatusConflict
		errCode = string(appCode)
	case apperrors.ErrCodeUnavailable:
		code = http.StatusServiceUnavailable
		errCode = string(appCode)
	case apperrors.ErrCodeTimeout:
		code = http.StatusGatewayTimeout
		errCode = string(appCode)
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
