package apperr

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Body is the JSON error envelope returned by every endpoint.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
	Used    *int   `json:"used,omitempty"`
}

// Write renders err as a JSON error response. Errors outside the taxonomy and
// persistence failures are logged with their cause and rendered generically.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = Persistence("", err)
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		event := log.Error().Err(err).Int("status", status)
		if r != nil {
			event = event.Str("method", r.Method).Str("path", r.URL.Path)
		}
		event.Msg("Request failed")
	}

	if appErr.Type == TypeRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(appErr)))
	}

	body := Body{Error: appErr.code(), Message: appErr.Message, Limit: appErr.Limit, Used: appErr.Used}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Error().Err(encErr).Int("status", status).Msg("apperr: encode error response")
	}
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, never below 1.
func RetryAfterSeconds(e *Error) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
