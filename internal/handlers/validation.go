package handlers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// formatBindError 把gin绑定错误翻译为可读的提示
func formatBindError(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var parts []string
		for _, fieldError := range validationErrors {
			switch fieldError.Tag() {
			case "required":
				parts = append(parts, fmt.Sprintf("字段 %s 必填", fieldError.Field()))
			case "min":
				parts = append(parts, fmt.Sprintf("字段 %s 不能小于 %s", fieldError.Field(), fieldError.Param()))
			case "oneof":
				parts = append(parts, fmt.Sprintf("字段 %s 取值必须是 %s 之一", fieldError.Field(), fieldError.Param()))
			default:
				parts = append(parts, fmt.Sprintf("字段 %s 校验失败（%s）", fieldError.Field(), fieldError.Tag()))
			}
		}
		return strings.Join(parts, "；")
	}
	return "参数错误"
}
