package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"sigforge/core"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

var validate = validator.New()

var (
	dsnPattern    = regexp.MustCompile(`(?:postgres|postgresql|sqlite|redis)://[^\s"']+`)
	pathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	secretPattern = regexp.MustCompile(`(?i)(password|secret|token|key)[:=]\s*["']?[^"'\s]+["']?`)
)

// sanitizeErrorMessage removes connection strings, file paths and
// credentials from text sent to clients.
func sanitizeErrorMessage(message string) string {
	message = dsnPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
	message = pathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// sanitizeLogField strips control characters so user input cannot forge
// log lines.
func sanitizeLogField(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError logs the full error and sends the sanitized message.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, "error", err, "status_code", statusCode)
		} else {
			logger.Debugw(message, "error", err, "status_code", statusCode)
		}
	}
	writeJSON(w, statusCode, errorResponse{Error: sanitizeErrorMessage(message)})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNodeNotFound), errors.Is(err, core.ErrEdgeNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnknownComponent),
		errors.Is(err, core.ErrInvalidEndpoint),
		errors.Is(err, core.ErrInvalidOperator),
		errors.Is(err, core.ErrMalformedDocument),
		errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrEmptyGraph), errors.Is(err, core.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err with the status its kind implies.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg, err, a.logger)
}
