package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	customError "github.com/segyhp/installment-engine/pkg/errors"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Error("encoding JSON response")
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, code, message string) {
	response := ErrorResponse{
		Success:   false,
		Error:     http.StatusText(statusCode),
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logrus.WithError(encodeErr).Error("encoding error response")
	}
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, customError.ErrCodeNotFound, message)
}

// MethodNotAllowed sends a 405 response
func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, customError.ErrCodeMethodNotAllowed, "method not allowed")
}

// FromError writes err using its kind. Messages of internal, auth and gateway
// errors are replaced with generic text; the full error is logged.
func FromError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	be, ok := customError.As(err)
	if !ok {
		be = customError.WrapInternal(err)
	}

	status := be.Kind.HTTPStatus()
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"kind":   be.Kind.String(),
		"code":   be.Code,
		"status": status,
	})

	switch be.Kind {
	case customError.KindInternal, customError.KindGateway:
		entry.Error("request failed")
	default:
		entry.Info("request rejected")
	}

	if be.Kind == customError.KindRateLimit && be.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(be.RetryAfter)))
	}

	message := be.Message
	if !be.Kind.Exposed() {
		message = genericMessage(be.Kind)
	}

	Error(w, status, be.Code, message)
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func genericMessage(kind customError.Kind) string {
	switch kind {
	case customError.KindAuthentication:
		return "authentication required"
	case customError.KindAuthorization:
		return "you are not allowed to perform this action"
	case customError.KindGateway:
		return "payment processor is unavailable, please retry"
	default:
		return "internal server error"
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response recorder to capture the status code
			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   recorder.statusCode,
				"duration": time.Since(start).String(),
			}).Info("http request")
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}
