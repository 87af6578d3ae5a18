package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haven-live/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// FromError maps an apperr kind to the matching HTTP status. Non-apperr
// errors become 500 with a generic message so internals never leak.
func FromError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		Internal(c, "internal error")
		return
	}
	switch e.Kind {
	case apperr.Validation:
		BadRequest(c, e.Message)
	case apperr.NotFound:
		NotFound(c, e.Message)
	case apperr.Forbidden:
		Forbidden(c, e.Message)
	case apperr.Conflict, apperr.InvalidState:
		Conflict(c, e.Message)
	case apperr.ExternalService, apperr.Configuration:
		ServiceUnavailable(c, e.Message)
	default:
		Internal(c, e.Message)
	}
}
