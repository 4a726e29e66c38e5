package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/cache"
	"snowbridge/pkg/jwt"
	"snowbridge/pkg/logger"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// StreamHandler 实时推送处理器（SSE + WebSocket）
type StreamHandler struct {
	upgrader   websocket.Upgrader
	cache      *cache.RedisCache
	jwtManager *jwt.JWTManager
}

// NewStreamHandler 创建推送处理器
func NewStreamHandler(redisCache *cache.RedisCache, jwtManager *jwt.JWTManager) *StreamHandler {
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 跨域由CORS中间件统一管理，这里放行
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		cache:      redisCache,
		jwtManager: jwtManager,
	}
}

// StreamTickets SSE推送表级工单变更事件
// 每行一个JSON事件，30秒心跳保活
func (h *StreamHandler) StreamTickets(c *gin.Context) {
	table := c.Param("table")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	if _, ok := h.authorize(c); !ok {
		return
	}

	log := logger.GetLogger()
	clientID := uuid.New().String()
	log.Infof("SSE客户端接入: %s（表 %s）", clientID, table)

	ctx := c.Request.Context()
	pubsub := h.cache.Subscribe(ctx, "tickets:"+table)
	defer pubsub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	messages := pubsub.Channel()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			log.Infof("SSE客户端断开: %s", clientID)
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent("ticket", message.Payload)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// WatchTickets WebSocket推送工单变更事件
// 浏览器的WebSocket不带Authorization头，令牌通过查询参数传递
func (h *StreamHandler) WatchTickets(c *gin.Context) {
	table := c.Query("table")
	if table == "" || !models.IsSupportedTable(table) {
		response.BadRequest(c, "缺少或不支持的table参数")
		return
	}

	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "缺少token参数")
		return
	}
	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		response.Unauthorized(c, "Token无效或已过期")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().WithError(err).Error("WebSocket升级失败")
		return
	}

	go h.pumpTicketEvents(conn, table, claims.Username)
}

// pumpTicketEvents WebSocket事件泵：订阅Redis频道并转发给客户端
func (h *StreamHandler) pumpTicketEvents(conn *websocket.Conn, table, username string) {
	log := logger.GetLogger()
	defer conn.Close()

	log.Infof("WebSocket客户端接入: %s（表 %s）", username, table)

	pubsub := h.cache.Subscribe(context.Background(), "tickets:"+table)
	defer pubsub.Close()

	// 读协程只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.WithError(err).Debug("WebSocket异常关闭")
				}
				return
			}
		}
	}()

	messages := pubsub.Channel()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Infof("WebSocket客户端断开: %s", username)
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message.Payload)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// authorize SSE鉴权：支持Authorization头或token查询参数
func (h *StreamHandler) authorize(c *gin.Context) (*jwt.JWTClaims, bool) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		response.Unauthorized(c, "请先登录")
		return nil, false
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		response.Unauthorized(c, "Token无效或已过期")
		return nil, false
	}
	return claims, true
}
