package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"AgentOS-Bridge/pkg/logger"
)

// bearerAuth 校验 Authorization: Bearer <token>，并把每个请求写入审计日志。
// token 为空时只记录审计日志。
func bearerAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		audit := logger.Audit()
		if token != "" {
			presented := extractBearerToken(c)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				status := http.StatusUnauthorized
				audit.Warn("access_denied",
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"status", status,
					"token_present", presented != "",
				)
				c.AbortWithStatusJSON(status, errorResponse{
					ErrorCode:   "UNAUTHORIZED",
					DisplayText: "UNAUTHORIZED: a valid bearer token is required",
				})
				return
			}
		}

		start := time.Now()
		c.Next()
		audit.Info("api_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
