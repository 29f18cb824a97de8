package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse wraps every JSON body. Code is 0 on success and the HTTP status
// otherwise.
type apiResponse struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Data      any            `json:"data,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:      0,
		Message:   "ok",
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString(ctxRequestID),
	})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, apiResponse{
		Code:      0,
		Message:   "created",
		Data:      data,
		RequestID: c.GetString(ctxRequestID),
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.AbortWithStatusJSON(status, apiResponse{
		Code:      status,
		Message:   message,
		Meta:      meta,
		RequestID: c.GetString(ctxRequestID),
	})
}
