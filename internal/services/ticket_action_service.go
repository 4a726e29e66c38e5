package services

import (
	"context"
	"fmt"

	"snowbridge/internal/models"
	"snowbridge/pkg/logger"
)

// TicketActionService 工单工作流动作服务
// 无状态：每个动作独立翻译为一次桥接更新调用，调用之间不保留任何状态
type TicketActionService struct {
	bridge TicketBridge
}

// NewTicketActionService 创建工单动作服务
func NewTicketActionService(bridge TicketBridge) *TicketActionService {
	return &TicketActionService{
		bridge: bridge,
	}
}

// ActionRequest 工作流动作请求
// Table和SysID由路径参数填充，请求体中的同名字段会被覆盖
type ActionRequest struct {
	Table           string `json:"table"`
	SysID           string `json:"sys_id"`
	Assignee        string `json:"assignee"`
	Priority        string `json:"priority"`
	Category        string `json:"category"`
	ResolutionCode  string `json:"resolution_code"`
	ResolutionNotes string `json:"resolution_notes"`
	Notes           string `json:"notes"`
}

// 解决代码查询失败时的硬编码兜底
var fallbackResolutionCodes = []string{
	"Solved (Permanently)",
	"Solved (Work Around)",
	"Not Solved (Not Reproducible)",
}

// ResolveTicket 解决工单
func (s *TicketActionService) ResolveTicket(ctx context.Context, req *ActionRequest) *RecordResult {
	code := req.ResolutionCode
	if code == "" {
		codes := s.GetResolutionCodes(ctx)
		if len(codes) > 0 {
			code = codes[0]
		}
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, models.Record{
		"state":       models.StateResolved,
		"close_code":  code,
		"close_notes": req.ResolutionNotes,
	})
}

// CloseTicket 关闭工单
func (s *TicketActionService) CloseTicket(ctx context.Context, req *ActionRequest) *RecordResult {
	code := req.ResolutionCode
	if code == "" {
		codes := s.GetResolutionCodes(ctx)
		if len(codes) > 0 {
			code = codes[0]
		}
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, models.Record{
		"state":       models.StateClosed,
		"close_code":  code,
		"close_notes": req.ResolutionNotes,
	})
}

// ReopenTicket 重新打开工单
func (s *TicketActionService) ReopenTicket(ctx context.Context, req *ActionRequest) *RecordResult {
	notes := req.Notes
	if notes == "" {
		notes = "工单已重新打开"
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, models.Record{
		"state":      models.StateInProgress,
		"work_notes": notes,
	})
}

// AssignTicket 指派工单
func (s *TicketActionService) AssignTicket(ctx context.Context, req *ActionRequest) *RecordResult {
	if req.Assignee == "" {
		return &RecordResult{Success: false, Error: "缺少指派对象"}
	}

	update := models.Record{
		"assigned_to": req.Assignee,
	}
	if req.Notes != "" {
		update["work_notes"] = req.Notes
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, update)
}

// UpdatePriority 更新工单优先级
func (s *TicketActionService) UpdatePriority(ctx context.Context, req *ActionRequest) *RecordResult {
	if req.Priority == "" {
		return &RecordResult{Success: false, Error: "缺少优先级"}
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, models.Record{
		"priority": req.Priority,
	})
}

// UpdateCategory 更新工单分类
func (s *TicketActionService) UpdateCategory(ctx context.Context, req *ActionRequest) *RecordResult {
	if req.Category == "" {
		return &RecordResult{Success: false, Error: "缺少分类"}
	}

	return s.bridge.UpdateRecord(ctx, req.Table, req.SysID, models.Record{
		"category": req.Category,
	})
}

// EscalateTicket 升级工单：表达为带合成备注的指派
func (s *TicketActionService) EscalateTicket(ctx context.Context, req *ActionRequest) *RecordResult {
	escalated := *req
	escalated.Notes = fmt.Sprintf("工单升级处理: %s", req.Notes)
	return s.AssignTicket(ctx, &escalated)
}

// SelfAssignTicket 认领工单：表达为指派给当前用户
func (s *TicketActionService) SelfAssignTicket(ctx context.Context, req *ActionRequest, username string) *RecordResult {
	claimed := *req
	claimed.Assignee = username
	claimed.Notes = fmt.Sprintf("工单已由 %s 认领", username)
	return s.AssignTicket(ctx, &claimed)
}

// GetResolutionCodes 从ServiceNow选项表实时获取解决代码
// 查询失败时返回硬编码的最小兜底集合
func (s *TicketActionService) GetResolutionCodes(ctx context.Context) []string {
	query := s.bridge.QueryTable(ctx, "sys_choice", map[string]string{
		"sysparm_query": "name=incident^element=close_code^inactive=false",
	})
	if !query.Success || len(query.Records) == 0 {
		logger.GetLogger().Warn("查询解决代码失败，使用兜底集合")
		return append([]string(nil), fallbackResolutionCodes...)
	}

	var codes []string
	for _, record := range query.Records {
		if value := record.GetString("value"); value != "" {
			codes = append(codes, value)
		}
	}
	if len(codes) == 0 {
		return append([]string(nil), fallbackResolutionCodes...)
	}
	return codes
}
