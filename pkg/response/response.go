package response

import (
	"time"

	"snowbridge/pkg/errors"
	"snowbridge/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// Response 统一返回格式
type Response struct {
	Success   bool        `json:"success"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// PageResponse 分页返回格式
type PageResponse struct {
	Success   bool                 `json:"success"`
	Result    interface{}          `json:"result,omitempty"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
	Timestamp string               `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ========== 基础返回方法 ==========

// Success 成功返回
func Success(c *gin.Context, result interface{}) {
	c.JSON(errors.CodeSuccess, Response{
		Success:   true,
		Result:    result,
		Timestamp: now(),
	})
}

// SuccessWithPage 分页成功返回
func SuccessWithPage(c *gin.Context, result interface{}, pageInfo *pagination.PageInfo) {
	c.JSON(errors.CodeSuccess, PageResponse{
		Success:   true,
		Result:    result,
		PageInfo:  pageInfo,
		Timestamp: now(),
	})
}

// Error 通用错误返回，code直接作为HTTP状态码
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Success:   false,
		Error:     message,
		Timestamp: now(),
	})
}

// ErrorWithResult 错误返回，附带结果负载（如健康检查的组件明细）
func ErrorWithResult(c *gin.Context, code int, message string, result interface{}) {
	c.JSON(code, Response{
		Success:   false,
		Result:    result,
		Error:     message,
		Timestamp: now(),
	})
}

// ========== HTTP错误快捷方法 ==========

func BadRequest(c *gin.Context, message string) {
	Error(c, errors.CodeInvalidParam, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, errors.CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, errors.CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, errors.CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, errors.CodeConflict, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, errors.CodeServerError, message)
}

func UpstreamError(c *gin.Context, message string) {
	Error(c, errors.CodeUpstreamErr, message)
}

func Unavailable(c *gin.Context, message string) {
	Error(c, errors.CodeUnavailable, message)
}
