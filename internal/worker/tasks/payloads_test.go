package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumaudit/internal/audit"
)

func TestAuditContentTaskRoundTrip(t *testing.T) {
	payload := &AuditContentPayload{
		ContentType: "user_profile",
		UserID:      "u-1",
		Changes: map[string]audit.FieldChange{
			"bio":    {Text: "新签名"},
			"avatar": {Image: &audit.ImageRef{Kind: audit.ImageRefLocal, Disk: "avatars", Path: "u-1/a.png"}},
		},
	}

	task, err := NewAuditContentTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeAuditContent, task.Type())

	parsed, err := ParseAuditContentPayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload.ContentType, parsed.ContentType)
	assert.Equal(t, "新签名", parsed.Changes["bio"].Text)
	require.NotNil(t, parsed.Changes["avatar"].Image)
	assert.Equal(t, audit.ImageRefLocal, parsed.Changes["avatar"].Image.Kind)
}

func TestParseAuditContentPayloadRejects(t *testing.T) {
	t.Run("非法 JSON", func(t *testing.T) {
		_, err := ParseAuditContentPayload(asynq.NewTask(TypeAuditContent, []byte("not json")))
		assert.Error(t, err)
	})

	t.Run("缺少用户 ID", func(t *testing.T) {
		_, err := ParseAuditContentPayload(asynq.NewTask(TypeAuditContent, []byte(`{"content_type":"post","content_id":"p-1"}`)))
		assert.Error(t, err)
	})
}
