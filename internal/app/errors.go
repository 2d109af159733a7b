package app

import (
	"fmt"
	"net/http"
)

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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func accessDenied(reason string) *DomainError {
	return domainError(http.StatusForbidden, "ACCESS_DENIED", reason, nil)
}

func conflict(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, details)
}

func upstreamContract(message string) *DomainError {
	return domainError(http.StatusBadGateway, "UPSTREAM_CONTRACT", message, nil)
}

func upstreamUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", message, nil)
}
