package handlers

import (
	"crypto/subtle"

	"snowbridge/pkg/config"
	"snowbridge/pkg/jwt"
	"snowbridge/pkg/logger"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler 认证处理器
// 本服务只有一个配置化的服务账号，供Web UI换取JWT使用
type AuthHandler struct {
	authCfg    *config.AuthConfig
	jwtManager *jwt.JWTManager
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authCfg *config.AuthConfig, jwtManager *jwt.JWTManager) *AuthHandler {
	return &AuthHandler{
		authCfg:    authCfg,
		jwtManager: jwtManager,
	}
}

// Login 服务账号登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, formatBindError(err))
		return
	}

	if req.Username != h.authCfg.Username || !h.verifyPassword(req.Password) {
		logger.GetLogger().Warnf("登录失败: %s", req.Username)
		response.Unauthorized(c, "用户名或密码错误")
		return
	}

	token, err := h.jwtManager.GenerateToken(req.Username)
	if err != nil {
		response.ServerError(c, "生成令牌失败")
		return
	}

	response.Success(c, gin.H{
		"token":    token,
		"username": req.Username,
	})
}

// verifyPassword 校验服务账号密码，优先使用bcrypt哈希
func (h *AuthHandler) verifyPassword(password string) bool {
	if h.authCfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(h.authCfg.PasswordHash), []byte(password)) == nil
	}
	if h.authCfg.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h.authCfg.Password), []byte(password)) == 1
}
