package handlers

import (
	"snowbridge/internal/services"
	"snowbridge/pkg/jwt"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// TicketActionHandler 工单工作流动作处理器
type TicketActionHandler struct {
	actionService *services.TicketActionService
}

// NewTicketActionHandler 创建工单动作处理器
func NewTicketActionHandler(actionService *services.TicketActionService) *TicketActionHandler {
	return &TicketActionHandler{
		actionService: actionService,
	}
}

// bindAction 从路径参数和请求体构造动作请求
func bindAction(c *gin.Context) (*services.ActionRequest, bool) {
	req := &services.ActionRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			response.BadRequest(c, "请求体必须是JSON对象")
			return nil, false
		}
	}

	// 路径参数优先于请求体
	req.Table = c.Param("table")
	req.SysID = c.Param("sys_id")
	return req, true
}

// respondAction 统一处理桥接结果
// 桥接失败表现为Success=false的结果，转换为502返回，绝不panic
func respondAction(c *gin.Context, result *services.RecordResult) {
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}
	response.Success(c, result.Record)
}

// Resolve 解决工单
func (h *TicketActionHandler) Resolve(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.ResolveTicket(c.Request.Context(), req))
}

// Close 关闭工单
func (h *TicketActionHandler) Close(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.CloseTicket(c.Request.Context(), req))
}

// Reopen 重新打开工单
func (h *TicketActionHandler) Reopen(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.ReopenTicket(c.Request.Context(), req))
}

// Assign 指派工单
func (h *TicketActionHandler) Assign(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.AssignTicket(c.Request.Context(), req))
}

// UpdatePriority 更新优先级
func (h *TicketActionHandler) UpdatePriority(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.UpdatePriority(c.Request.Context(), req))
}

// UpdateCategory 更新分类
func (h *TicketActionHandler) UpdateCategory(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.UpdateCategory(c.Request.Context(), req))
}

// Escalate 升级工单
func (h *TicketActionHandler) Escalate(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	respondAction(c, h.actionService.EscalateTicket(c.Request.Context(), req))
}

// SelfAssign 认领工单，指派给当前登录用户
func (h *TicketActionHandler) SelfAssign(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}

	claims := c.MustGet("claims").(*jwt.JWTClaims)
	respondAction(c, h.actionService.SelfAssignTicket(c.Request.Context(), req, claims.Username))
}

// GetResolutionCodes 查询可用的解决代码
func (h *TicketActionHandler) GetResolutionCodes(c *gin.Context) {
	response.Success(c, h.actionService.GetResolutionCodes(c.Request.Context()))
}
