package app

import (
	"fmt"
	"net/http"
)

// DomainError carries an HTTP status and a stable error code to the client.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// invalidBroadcastEnvelope flags a relay POST whose envelope cannot be
// broadcast, typically a missing name discriminator.
func invalidBroadcastEnvelope(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_BROADCAST_ENVELOPE", message, nil)
}
