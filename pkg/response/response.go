// Package response is the JSON envelope used by the HTTP API.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the standard API response structure
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error codes carried in Response.Code. Zero means success.
const (
	CodeOK         = 0
	CodeBadRequest = -1
	CodeNotFound   = -1003
	CodeRejected   = -2001
	CodeInternal   = -5000
)

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "success", Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: CodeOK, Message: "created", Data: data})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, code int, message string) {
	c.AbortWithStatusJSON(statusCode, Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// Unprocessable reports a well-formed request the domain refused.
func Unprocessable(c *gin.Context, message string) {
	Error(c, http.StatusUnprocessableEntity, CodeRejected, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeInternal, message)
}
