package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the error body every endpoint returns on failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func newAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

func badRequest(code, message string) *APIError {
	return newAPIError(http.StatusBadRequest, code, message)
}

func internalError(message string) *APIError {
	if message == "" {
		message = "internal server error"
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", message)
}

func writeError(c *gin.Context, apiErr *APIError) {
	if apiErr == nil {
		apiErr = internalError("")
	}

	body := gin.H{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	if apiErr.Details != nil {
		body["details"] = apiErr.Details
	}
	if id := requestID(c); id != "" {
		body["requestId"] = id
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": body})
}
