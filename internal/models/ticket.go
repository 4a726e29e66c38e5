package models

import "fmt"

// Record ServiceNow半结构化记录
// 以sys_id为稳定主键，字段集合依表而定，原样存入副本库
type Record map[string]interface{}

// GetString 获取字符串字段值
// ServiceNow在display_value=all模式下会把字段展开为{value, display_value}对象
func (r Record) GetString(key string) string {
	val, ok := r[key]
	if !ok || val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case map[string]interface{}:
		if inner, ok := v["value"]; ok && inner != nil {
			return fmt.Sprintf("%v", inner)
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SysID 获取记录的sys_id
func (r Record) SysID() string {
	return r.GetString("sys_id")
}

// Number 获取工单编号
func (r Record) Number() string {
	return r.GetString("number")
}

// UpdatedOn 获取记录的最后更新时间
func (r Record) UpdatedOn() string {
	return r.GetString("sys_updated_on")
}

// 支持同步的ServiceNow表
var SupportedTables = []string{
	"incident",
	"change_task",
	"sc_task",
	"problem",
	"sc_req_item",
}

// IsSupportedTable 检查表是否在支持范围内
func IsSupportedTable(table string) bool {
	for _, t := range SupportedTables {
		if t == table {
			return true
		}
	}
	return false
}

// ServiceNow事件工单状态码
const (
	StateNew        = "1"
	StateInProgress = "2"
	StateOnHold     = "3"
	StateResolved   = "6"
	StateClosed     = "7"
	StateCanceled   = "8"
)
