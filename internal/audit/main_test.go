package audit

import (
	"fmt"
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"forumaudit/internal/config"
	"forumaudit/internal/forum"
	"forumaudit/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// newTestDB 打开内存数据库并迁移全部表
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	store := forum.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("迁移论坛表失败: %v", err)
	}
	if err := db.AutoMigrate(&AuditLog{}); err != nil {
		t.Fatalf("迁移审核日志表失败: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

// testAuditConfig 测试用审核配置
func testAuditConfig() *config.AuditConfig {
	return &config.AuditConfig{
		APIKey:              "test-key",
		APIEndpoint:         "http://localhost/v1",
		Model:               "gpt-4o",
		Temperature:         0.3,
		MaxTokens:           4096,
		Timeout:             5,
		ConfidenceThreshold: 0.7,
		SuspendDays:         7,
		SystemUserID:        "",
		DefaultDisplayName:  "用户",
		DefaultBio:          "",
		NotifyEnabled:       false,
		DownloadImages:      false,
		UploadAuditEnabled:  true,
		MaxImageBytes:       5 * 1024 * 1024,
		MaxTextBytes:        64 * 1024,
	}
}

// seedUser 造一个用户
func seedUser(t *testing.T, db *gorm.DB, id, username string) *forum.User {
	t.Helper()
	user := &forum.User{ID: id, Username: username, DisplayName: username}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("创建测试用户失败: %v", err)
	}
	return user
}

// seedDiscussionWithPosts 造一个带首帖和回复的讨论，返回 (讨论, 首帖, 回复)
func seedDiscussionWithPosts(t *testing.T, db *gorm.DB, userID string) (*forum.Discussion, *forum.Post, *forum.Post) {
	t.Helper()

	discussion := &forum.Discussion{ID: "d-1", UserID: userID, Title: "测试讨论", IsApproved: true}
	if err := db.Create(discussion).Error; err != nil {
		t.Fatalf("创建测试讨论失败: %v", err)
	}

	first := &forum.Post{ID: "p-1", DiscussionID: discussion.ID, UserID: userID, Number: 1, Content: "<p>首帖内容</p>", IsApproved: true}
	reply := &forum.Post{ID: "p-2", DiscussionID: discussion.ID, UserID: userID, Number: 2, Content: "<p>回复内容</p>", IsApproved: true}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("创建首帖失败: %v", err)
	}
	if err := db.Create(reply).Error; err != nil {
		t.Fatalf("创建回复失败: %v", err)
	}

	firstID := first.ID
	discussion.FirstPostID = &firstID
	if err := db.Save(discussion).Error; err != nil {
		t.Fatalf("更新讨论首帖失败: %v", err)
	}

	return discussion, first, reply
}
