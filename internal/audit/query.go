package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"forumaudit/internal/forum"
)

// LogQuery 审核日志的查询条件
type LogQuery struct {
	ContentType   string // 为空不过滤
	Status        string
	UserID        string
	MinConfidence float64
	SortBy        string // created_at, confidence
	SortDesc      bool
	Page          int
	PageSize      int
}

// allowedSortFields 防止排序参数注入
var allowedSortFields = map[string]string{
	"created_at": "created_at",
	"confidence": "confidence",
	"status":     "status",
}

// Normalize 规整分页与排序参数
func (q *LogQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if _, ok := allowedSortFields[q.SortBy]; !ok {
		q.SortBy = "created_at"
		q.SortDesc = true
	}
}

// QueryService 审核日志的读取层
type QueryService struct {
	db *gorm.DB
}

// NewQueryService 创建日志查询服务
func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// List 按条件分页查询审核日志，返回记录和总数
func (s *QueryService) List(ctx context.Context, query *LogQuery) ([]AuditLog, int64, error) {
	query.Normalize()

	db := s.db.WithContext(ctx).Model(&AuditLog{})
	if query.ContentType != "" {
		db = db.Where("content_type = ?", query.ContentType)
	}
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.MinConfidence > 0 {
		db = db.Where("confidence >= ?", query.MinConfidence)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计审核日志失败: %w", err)
	}

	direction := "ASC"
	if query.SortDesc {
		direction = "DESC"
	}
	order := allowedSortFields[query.SortBy] + " " + direction

	var logs []AuditLog
	err := db.Order(order).
		Offset((query.Page - 1) * query.PageSize).
		Limit(query.PageSize).
		Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询审核日志失败: %w", err)
	}

	return logs, total, nil
}

// Get 按 ID 查询单条审核日志
func (s *QueryService) Get(ctx context.Context, id string) (*AuditLog, error) {
	var log AuditLog
	if err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, forum.ErrNotFound
		}
		return nil, fmt.Errorf("查询审核日志失败: %w", err)
	}
	return &log, nil
}

// Stats 各状态的日志数量，供管理面板展示
func (s *QueryService) Stats(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&AuditLog{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计审核日志失败: %w", err)
	}

	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[strings.ToLower(r.Status)] = r.Count
	}
	return stats, nil
}

// Redact 去掉快照字段，给无完整查看权限的调用方
func Redact(log *AuditLog) *AuditLog {
	clone := *log
	clone.AuditedContent = nil
	clone.APIRequest = nil
	clone.APIResponse = nil
	return &clone
}
