package ai

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// Kind classifies a recognition failure.
type Kind string

const (
	KindNoAPIKey        Kind = "no_api_key"
	KindNoModel         Kind = "no_model"
	KindNetwork         Kind = "network"
	KindRateLimited     Kind = "rate_limited"
	KindServerError     Kind = "server_error"
	KindInvalidResponse Kind = "invalid_response"
)

// RecognitionError is returned by Client.Recognize for every failure.
type RecognitionError struct {
	Kind    Kind
	Status  int    // HTTP status, zero when none was received
	Message string // upstream message when the provider sent one
	Err     error
}

func (e *RecognitionError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// KindOf returns the kind of a recognition error, or "" for other errors.
func KindOf(err error) Kind {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// isTransientStatus: 429 and 5xx are retried, everything else is terminal.
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// kindForStatus maps a non-success HTTP status onto an error kind.
func kindForStatus(status int) Kind {
	if status == http.StatusTooManyRequests {
		return KindRateLimited
	}
	return KindServerError
}

// statusOf extracts the HTTP status and message from an SDK error. ok is
// false when the call never produced a response.
func statusOf(err error) (status int, message string, ok bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Message, true
	}
	return 0, "", false
}
