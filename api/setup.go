package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"forumaudit/api/handlers/auditlog"
	"forumaudit/internal/audit"
	"forumaudit/internal/auth"
	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/notification"
	"forumaudit/internal/storage"
)

// Services 路由依赖的服务集合
type Services struct {
	Audit    *audit.Service
	Query    *audit.QueryService
	Auth     *auth.Service
	Enqueuer audit.Enqueuer
}

// BuildServices 组装审核管线的全部服务
func BuildServices(db *gorm.DB, cfg *config.Config, enqueuer audit.Enqueuer) *Services {
	store := forum.NewStore(db)
	files := storage.NewDiskStore(&cfg.Storage)
	extractor := audit.NewExtractor(&cfg.Audit, files)
	llm := audit.NewLLMClient(&cfg.Audit)
	flags := audit.NewFlagService(store)
	notifier := notification.NewMessageNotifier(db, &cfg.Audit)
	results := audit.NewResultHandler(db, store, flags, notifier, &cfg.Audit)
	svc := audit.NewService(db, store, extractor, llm, results, &cfg.Audit)

	return &Services{
		Audit:    svc,
		Query:    audit.NewQueryService(db),
		Auth:     auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.ExpiryHours)*time.Hour),
		Enqueuer: enqueuer,
	}
}

// SetupRouter 创建 HTTP 引擎并挂载路由
func SetupRouter(cfg *config.Config, services *Services) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(Recovery(), RequestLogger(), CORS())

	logs := auditlog.NewHandler(services.Query, services.Audit, services.Enqueuer)
	RegisterRoutes(r, services.Auth, logs)

	return r
}
