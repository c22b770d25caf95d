// Package api 组装 HTTP 路由。
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forumaudit/api/handlers/auditlog"
	"forumaudit/internal/auth"
	"forumaudit/internal/infra"
)

// RegisterRoutes 挂载全部路由
func RegisterRoutes(r *gin.Engine, authSvc *auth.Service, logs *auditlog.Handler) {
	// 探活
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := infra.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// 监控指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 管理接口
	v1 := r.Group("/api/v1", auth.Middleware(authSvc))
	{
		auditLogs := v1.Group("/audit-logs")
		{
			auditLogs.GET("", auth.RequirePermission(auth.PermViewAuditLogs), logs.List)
			auditLogs.GET("/stats", auth.RequirePermission(auth.PermViewAuditLogs), logs.Stats)
			auditLogs.GET("/:id", auth.RequirePermission(auth.PermViewAuditLogs), logs.Get)
			auditLogs.POST("/:id/retry", auth.RequirePermission(auth.PermRetryAudit), logs.Retry)
			auditLogs.POST("/manual", auth.RequirePermission(auth.PermManualAudit), logs.Manual)
		}
	}
}
