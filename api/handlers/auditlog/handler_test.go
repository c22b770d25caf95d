package auditlog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"forumaudit/internal/audit"
	"forumaudit/internal/auth"
	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeEnqueuer 记录入队请求
type fakeEnqueuer struct {
	requests []*audit.AuditRequest
	err      error
}

func (f *fakeEnqueuer) EnqueueAudit(req *audit.AuditRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	authSvc  *auth.Service
	enqueuer *fakeEnqueuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, forum.NewStore(db).AutoMigrate())
	require.NoError(t, db.AutoMigrate(&audit.AuditLog{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	cfg := &config.AuditConfig{ConfidenceThreshold: 0.7}
	store := forum.NewStore(db)
	enqueuer := &fakeEnqueuer{}
	authSvc := auth.NewService("test-secret", "forumaudit-test", time.Hour)

	flags := audit.NewFlagService(store)
	results := audit.NewResultHandler(db, store, flags, nil, cfg)
	extractor := audit.NewExtractor(cfg, nil)
	llm := audit.NewLLMClient(cfg)
	svc := audit.NewService(db, store, extractor, llm, results, cfg)
	handler := NewHandler(audit.NewQueryService(db), svc, enqueuer)

	router := gin.New()
	group := router.Group("/api/v1", auth.Middleware(authSvc))
	logs := group.Group("/audit-logs")
	logs.GET("", auth.RequirePermission(auth.PermViewAuditLogs), handler.List)
	logs.GET("/:id", auth.RequirePermission(auth.PermViewAuditLogs), handler.Get)
	logs.POST("/:id/retry", auth.RequirePermission(auth.PermRetryAudit), handler.Retry)
	logs.POST("/manual", auth.RequirePermission(auth.PermManualAudit), handler.Manual)

	return &testEnv{router: router, db: db, authSvc: authSvc, enqueuer: enqueuer}
}

func (e *testEnv) token(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := e.authSvc.GenerateToken("admin-1", roles)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func seedLog(t *testing.T, db *gorm.DB, id string, status audit.Status) {
	t.Helper()
	contentID := "p-1"
	log := &audit.AuditLog{
		ID:             id,
		ContentType:    forum.ContentTypePost,
		ContentID:      &contentID,
		UserID:         "u-1",
		Status:         status,
		Confidence:     0.8,
		Conclusion:     "测试结论",
		AuditedContent: []byte(`{"content":{"text":"secret"}}`),
		APIRequest:     []byte(`{"messages":[]}`),
		APIResponse:    []byte(`{"id":"r-1"}`),
	}
	require.NoError(t, db.Create(log).Error)
}

func TestListAuthorization(t *testing.T) {
	env := newTestEnv(t)
	seedLog(t, env.db, "log-1", audit.StatusCompleted)

	t.Run("无令牌拒绝", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("无权限角色拒绝", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs", env.token(t, "member"), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("版主看到脱敏记录", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs", env.token(t, "moderator"), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "secret")
		assert.Contains(t, w.Body.String(), "测试结论")
	})

	t.Run("管理员看到完整快照", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs", env.token(t, "admin"), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "secret")
	})
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	seedLog(t, env.db, "log-1", audit.StatusCompleted)
	seedLog(t, env.db, "log-2", audit.StatusFailed)

	w := env.do(t, http.MethodGet, "/api/v1/audit-logs?status=failed", env.token(t, "admin"), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Items      []audit.AuditLog `json:"items"`
			Pagination struct {
				Total int64 `json:"total"`
			} `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Data.Pagination.Total)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "log-2", resp.Data.Items[0].ID)
}

func TestGetLog(t *testing.T) {
	env := newTestEnv(t)
	seedLog(t, env.db, "log-1", audit.StatusCompleted)

	t.Run("存在", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs/log-1", env.token(t, "admin"), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("不存在", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/audit-logs/log-404", env.token(t, "admin"), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRetry(t *testing.T) {
	env := newTestEnv(t)
	seedLog(t, env.db, "log-failed", audit.StatusFailed)
	seedLog(t, env.db, "log-done", audit.StatusCompleted)

	t.Run("失败日志重新入队", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/log-failed/retry", env.token(t, "moderator"), "")
		require.Equal(t, http.StatusAccepted, w.Code)

		require.Len(t, env.enqueuer.requests, 1)
		assert.Equal(t, forum.ContentTypePost, env.enqueuer.requests[0].ContentType)
		assert.Equal(t, "p-1", env.enqueuer.requests[0].ContentID)

		var log audit.AuditLog
		require.NoError(t, env.db.First(&log, "id = ?", "log-failed").Error)
		assert.Equal(t, audit.StatusRetrying, log.Status)
	})

	t.Run("已完成日志拒绝", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/log-done/retry", env.token(t, "admin"), "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不存在的日志", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/log-404/retry", env.token(t, "admin"), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestManual(t *testing.T) {
	env := newTestEnv(t)

	t.Run("合法请求入队", func(t *testing.T) {
		body := `{"content_type":"post","content_id":"p-9","user_id":"u-1"}`
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/manual", env.token(t, "admin"), body)
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, env.enqueuer.requests, 1)
		assert.Equal(t, "p-9", env.enqueuer.requests[0].ContentID)
	})

	t.Run("非法内容类型拒绝", func(t *testing.T) {
		body := `{"content_type":"comment","content_id":"c-1","user_id":"u-1"}`
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/manual", env.token(t, "admin"), body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺内容 ID 拒绝", func(t *testing.T) {
		body := `{"content_type":"post","user_id":"u-1"}`
		w := env.do(t, http.MethodPost, "/api/v1/audit-logs/manual", env.token(t, "admin"), body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
