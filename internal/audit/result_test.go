package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"forumaudit/internal/forum"
)

// stubNotifier 记录通知调用
type stubNotifier struct {
	sent  bool
	err   error
	calls int
	last  struct {
		contentType forum.ContentType
		conclusion  string
		confidence  float64
	}
}

func (s *stubNotifier) SendViolationNotice(ctx context.Context, user *forum.User, contentType forum.ContentType, conclusion string, confidence float64) (bool, error) {
	s.calls++
	s.last.contentType = contentType
	s.last.conclusion = conclusion
	s.last.confidence = confidence
	return s.sent, s.err
}

// seedLog 造一条已完成的审核日志
func seedLog(t *testing.T, db *gorm.DB, contentType forum.ContentType, contentID, userID string, confidence float64, actions []Action, conclusion string) *AuditLog {
	t.Helper()
	log := &AuditLog{
		ID:          "log-" + contentID + "-" + userID,
		ContentType: contentType,
		UserID:      userID,
		Status:      StatusCompleted,
		Confidence:  confidence,
		Conclusion:  conclusion,
	}
	if contentID != "" {
		id := contentID
		log.ContentID = &id
	}
	log.ActionsTaken, _ = json.Marshal(actions)
	require.NoError(t, db.Create(log).Error)
	return log
}

func TestResultHandlerViolation(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	notifier := &stubNotifier{sent: true}
	handler := NewResultHandler(db, store, NewFlagService(store), notifier, cfg)

	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.95, []Action{ActionHide}, "广告内容")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	// 帖子被隐藏
	post, err := store.FindPost(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.False(t, post.IsApproved)

	// 挂了人工复核标记
	flag, err := store.FindFlag(context.Background(), reply.ID, FlagTypeAudit)
	require.NoError(t, err)
	assert.Contains(t, flag.ReasonDetail, "广告内容")

	// 通知发出
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, "广告内容", notifier.last.conclusion)

	// 处置记录完整
	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	assert.Equal(t, "violated", record.Decision)
	require.Len(t, record.ActionsExecuted, 1)
	assert.Equal(t, ActionHide, record.ActionsExecuted[0].Action)
	assert.Equal(t, "success", record.ActionsExecuted[0].Status)
	require.NotNil(t, record.MessageSent)
	assert.True(t, *record.MessageSent)
}

func TestResultHandlerBelowThreshold(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	// 预审模式下内容先被隐藏并挂了待审标记
	require.NoError(t, store.SetPostApproved(context.Background(), reply.ID, false))
	require.NoError(t, store.CreateFlag(context.Background(), &forum.Flag{PostID: reply.ID, Type: FlagTypeAudit, Reason: "AI 审核中"}))

	notifier := &stubNotifier{sent: true}
	handler := NewResultHandler(db, store, NewFlagService(store), notifier, cfg)

	// 模型虽然建议 hide 但置信度低于阈值
	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.4, []Action{ActionHide}, "可疑但不确定")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	// 内容放行，标记清除，不打扰用户
	post, err := store.FindPost(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.True(t, post.IsApproved)

	_, err = store.FindFlag(context.Background(), reply.ID, FlagTypeAudit)
	assert.ErrorIs(t, err, forum.ErrNotFound)
	assert.Zero(t, notifier.calls)

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	assert.Equal(t, "approved", record.Decision)
	assert.Equal(t, ReasonBelowThreshold, record.Reason)
	assert.True(t, record.ContentApproved)
}

func TestResultHandlerNoViolations(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{}, cfg)

	// 置信度高但动作只有 none，同样放行
	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.9, []Action{ActionNone}, "正常内容")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	assert.Equal(t, "approved", record.Decision)
	assert.Equal(t, ReasonNoViolations, record.Reason)
}

func TestResultHandlerSuspend(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	cfg.SuspendDays = 3
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	var suspendedUser *forum.User
	var suspendedUntil time.Time
	handler.OnSuspended = func(u *forum.User, until time.Time, reason string) {
		suspendedUser = u
		suspendedUntil = until
	}

	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.98, []Action{ActionHide, ActionSuspend}, "恶意骚扰")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	// 封禁落库，原因为模型结论
	reloaded, err := store.FindUser(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.SuspendedUntil)
	assert.Equal(t, "恶意骚扰", reloaded.SuspendReason)
	expected := time.Now().UTC().AddDate(0, 0, 3)
	assert.WithinDuration(t, expected, *reloaded.SuspendedUntil, time.Minute)

	// 回调触发
	require.NotNil(t, suspendedUser)
	assert.Equal(t, user.ID, suspendedUser.ID)
	assert.WithinDuration(t, expected, suspendedUntil, time.Minute)

	// 两个动作都成功
	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	require.Len(t, record.ActionsExecuted, 2)
	for _, result := range record.ActionsExecuted {
		assert.Equal(t, "success", result.Status)
	}
}

func TestResultHandlerActionIsolation(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	// suspend 因缺少用户而失败，hide 仍要执行
	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.95, []Action{ActionSuspend, ActionHide}, "违规")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, nil, content))

	post, err := store.FindPost(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.False(t, post.IsApproved, "单个动作失败不应阻断其余动作")

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	require.Len(t, record.ActionsExecuted, 2)
	assert.Equal(t, "failed", record.ActionsExecuted[0].Status)
	assert.NotEmpty(t, record.ActionsExecuted[0].Error)
	assert.Equal(t, "success", record.ActionsExecuted[1].Status)
}

func TestResultHandlerNoneActionRecorded(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	// 动作列表混有 none：none 留痕但不处置，hide 正常执行
	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.95, []Action{ActionHide, ActionNone}, "违规")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	require.Len(t, record.ActionsExecuted, 2)
	assert.Equal(t, ActionHide, record.ActionsExecuted[0].Action)
	assert.Equal(t, "success", record.ActionsExecuted[0].Status)
	assert.Equal(t, ActionNone, record.ActionsExecuted[1].Action)
	assert.Equal(t, "no_action_taken", record.ActionsExecuted[1].Status)
}

func TestResultHandlerUnknownAction(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	// 模型给出枚举之外的动作：只留痕，不改任何内容状态
	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.95, []Action{Action("banhammer")}, "违规")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	post, err := store.FindPost(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.True(t, post.IsApproved, "未知动作不应触发任何状态变更")

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	assert.Equal(t, "violated", record.Decision)
	require.Len(t, record.ActionsExecuted, 1)
	assert.Equal(t, Action("banhammer"), record.ActionsExecuted[0].Action)
	assert.Equal(t, "unknown", record.ActionsExecuted[0].Status)
}

func TestResultHandlerProfileRevert(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	cfg.DefaultDisplayName = "用户"
	store := forum.NewStore(db)

	user := &forum.User{
		ID: "u-1", Username: "spammer", DisplayName: "广告别名",
		Bio: "加微信 xxx", AvatarPath: "u-1/avatar.png",
	}
	require.NoError(t, db.Create(user).Error)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	log := seedLog(t, db, forum.ContentTypeUserProfile, "", user.ID, 0.9, []Action{ActionHide}, "资料含广告")
	// 快照里只送审了别名和签名，头像不在本次范围
	log.AuditedContent, _ = json.Marshal(&AuditPayload{
		Type:    forum.ContentTypeUserProfile,
		Content: map[string]string{"display_name": "广告别名", "bio": "加微信 xxx"},
	})
	require.NoError(t, db.Save(log).Error)

	content := &forum.Content{Type: forum.ContentTypeUserProfile, User: user, Owner: user}
	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	reloaded, err := store.FindUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "用户", reloaded.DisplayName)
	assert.Empty(t, reloaded.Bio)
	// 快照外的字段不动
	assert.Equal(t, "u-1/avatar.png", reloaded.AvatarPath)
	assert.Equal(t, "spammer", reloaded.Username)

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	require.Len(t, record.ActionsExecuted, 1)
	assert.ElementsMatch(t, []string{"display_name", "bio"}, record.ActionsExecuted[0].RevertedFields)
}

func TestResultHandlerDisplayNameFallback(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	cfg.DefaultDisplayName = ""
	store := forum.NewStore(db)

	user := &forum.User{ID: "u-1", Username: "alice", DisplayName: "广告别名"}
	require.NoError(t, db.Create(user).Error)

	handler := NewResultHandler(db, store, NewFlagService(store), &stubNotifier{sent: true}, cfg)

	log := seedLog(t, db, forum.ContentTypeUserProfile, "", user.ID, 0.9, []Action{ActionHide}, "别名违规")
	log.AuditedContent, _ = json.Marshal(&AuditPayload{
		Type:    forum.ContentTypeUserProfile,
		Content: map[string]string{"display_name": "广告别名"},
	})
	require.NoError(t, db.Save(log).Error)

	content := &forum.Content{Type: forum.ContentTypeUserProfile, User: user, Owner: user}
	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	// 未配置默认别名时退回用户名，而不是清成空串
	reloaded, err := store.FindUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", reloaded.DisplayName)
}

func TestResultHandlerNotificationFailure(t *testing.T) {
	db := newTestDB(t)
	cfg := testAuditConfig()
	store := forum.NewStore(db)
	user := seedUser(t, db, "u-1", "alice")
	_, _, reply := seedDiscussionWithPosts(t, db, user.ID)

	notifier := &stubNotifier{err: errors.New("私信服务不可用")}
	handler := NewResultHandler(db, store, NewFlagService(store), notifier, cfg)

	log := seedLog(t, db, forum.ContentTypePost, reply.ID, user.ID, 0.95, []Action{ActionHide}, "违规")
	content, err := store.LoadContent(context.Background(), forum.ContentTypePost, reply.ID, user.ID)
	require.NoError(t, err)

	// 通知失败不影响处置结果
	require.NoError(t, handler.Handle(context.Background(), log, user, content))

	post, err := store.FindPost(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.False(t, post.IsApproved)

	var saved AuditLog
	require.NoError(t, db.First(&saved, "id = ?", log.ID).Error)
	var record ExecutionRecord
	require.NoError(t, json.Unmarshal(saved.ExecutionLog, &record))
	assert.Contains(t, record.MessageError, "私信服务不可用")
}
