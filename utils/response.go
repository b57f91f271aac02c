package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/mediastage/media"
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// MediaStatus maps a workflow error kind to an HTTP status.
func MediaStatus(err error) int {
	switch {
	case errors.Is(err, media.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// MediaError writes a workflow error in the standard envelope. Only the safe message is sent.
func MediaError(ctx *gin.Context, err error) {
	e := media.AsError(err)
	Error(ctx, MediaStatus(e), e.Code(), e.Message)
}
