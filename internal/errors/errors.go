// Package errors define o AppError usado nas respostas de erro do gateway.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternal      = "INTERNAL_ERROR"
	CodeBadGateway    = "BAD_GATEWAY"
	CodeInvalidConfig = "INVALID_CONFIG"
)

// AppError é um erro com código estável para o cliente.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus mapeia o código para o status HTTP.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetail adiciona um campo em details.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func RateLimited(message string) *AppError {
	return New(CodeRateLimited, message)
}

func Unavailable(message string, err error) *AppError {
	return Wrap(CodeUnavailable, message, err)
}

func Internal(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

func BadGateway(message string, err error) *AppError {
	return Wrap(CodeBadGateway, message, err)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// Response é o corpo JSON de erro: {"error": {...}}.
type Response struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON escreve o erro com o status do AppError. O erro interno (Err)
// nunca vai para o cliente.
func WriteJSON(w http.ResponseWriter, e *AppError, requestID string) {
	recordCode(w, e.Code)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(Response{Error: Detail{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	}})
}

// CodeRecorder é implementado por wrappers de ResponseWriter que precisam saber
// que a resposta foi gerada pelo próprio gateway (e com qual código).
type CodeRecorder interface {
	RecordErrorCode(code string)
}

// recordCode procura um CodeRecorder na cadeia de wrappers (via Unwrap).
func recordCode(w http.ResponseWriter, code string) {
	for w != nil {
		if rec, ok := w.(CodeRecorder); ok {
			rec.RecordErrorCode(code)
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}
