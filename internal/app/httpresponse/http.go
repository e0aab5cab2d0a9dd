package httpresponse

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// APIError is the body of every failed admin API call.
type APIError struct {
	ErrorMessage string `json:"error_message"`
	Code         int    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}

// WithCode attaches the result code of the failed operation.
func (e *APIError) WithCode(code int) *APIError {
	e.Code = code
	return e
}

func Error(error string) *APIError {
	log.Error(error)
	e := &APIError{
		ErrorMessage: error,
	}
	return e
}

func Errorf(error string, a ...interface{}) *APIError {
	return Error(fmt.Sprintf(error, a...))
}
