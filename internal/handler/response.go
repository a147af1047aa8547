package handler

import (
	"errors"
	"net/http"

	"github.com/blues/lps/internal/apperr"
	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// AbortWithError 按错误分类映射HTTP状态码
func AbortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrIllegalTransition):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrAlreadyFinalized):
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
