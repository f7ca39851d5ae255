package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T, maxMessages int) (*SessionManager, string) {
	tempDir := t.TempDir()
	sm, err := New(tempDir, maxMessages)
	require.NoError(t, err)
	return sm, tempDir
}

func TestKey(t *testing.T) {
	tests := []struct {
		name      string
		user      string
		chat      string
		shouldErr bool
	}{
		{"valid", "u1", "c1", false},
		{"empty user", "", "c1", true},
		{"empty chat", "u1", "", true},
		{"path traversal", "..", "c1", true},
		{"forward slash", "u1", "a/b", true},
		{"backslash", "u\\1", "c1", true},
		{"null byte", "u1", "c\x001", true},
		{"separator", "u__1", "c1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Key(tt.user, tt.chat)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionManager_GetUnknownIsEmpty(t *testing.T) {
	sm, _ := setupTestManager(t, 0)

	messages, err := sm.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSessionManager_SetThenGet(t *testing.T) {
	sm, dir := setupTestManager(t, 0)
	ctx := context.Background()

	in := []Message{
		{Role: "human", Content: "hi", MessageID: 1},
		{Role: "ai", Content: "hello", MessageID: 2, ParentMessageID: 1},
	}
	require.NoError(t, sm.Set(ctx, "u1", "c1", in))

	out, err := sm.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "hello", out[1].Content)
	assert.Equal(t, int64(1), out[1].ParentMessageID)
	assert.False(t, out[0].Timestamp.IsZero())

	_, err = os.Stat(filepath.Join(dir, "u1__c1.jsonl.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestSessionManager_SetReplaces(t *testing.T) {
	sm, _ := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, sm.Set(ctx, "u1", "c1", []Message{{Role: "human", Content: "a"}}))
	require.NoError(t, sm.Set(ctx, "u1", "c1", []Message{{Role: "human", Content: "b"}}))

	out, err := sm.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Content)
}

func TestSessionManager_TrimsToMaxMessages(t *testing.T) {
	sm, _ := setupTestManager(t, 2)
	ctx := context.Background()

	require.NoError(t, sm.Set(ctx, "u1", "c1", []Message{
		{Role: "human", Content: "1"},
		{Role: "ai", Content: "2"},
		{Role: "human", Content: "3"},
	}))

	out, err := sm.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2", out[0].Content)
}

func TestSessionManager_SkipsCorruptLines(t *testing.T) {
	sm, dir := setupTestManager(t, 0)

	content := `{"role":"human","content":"ok"}` + "\n" + "not json\n" + `{"content":"no role"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1__c1.jsonl"), []byte(content), 0600))

	out, err := sm.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Content)
}

func TestSessionManager_DeleteAndList(t *testing.T) {
	sm, _ := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, sm.Set(ctx, "u1", "c1", []Message{{Role: "human", Content: "a"}}))
	require.NoError(t, sm.Set(ctx, "u1", "c2", []Message{{Role: "human", Content: "b"}}))

	keys, err := sm.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1__c1", "u1__c2"}, keys)

	require.NoError(t, sm.Delete("u1", "c1"))
	require.NoError(t, sm.Delete("u1", "c1"))

	keys, err = sm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1__c2"}, keys)
}

func TestSessionManager_Prune(t *testing.T) {
	sm, dir := setupTestManager(t, 0)
	ctx := context.Background()

	require.NoError(t, sm.Set(ctx, "u1", "old", []Message{{Role: "human", Content: "a"}}))
	require.NoError(t, sm.Set(ctx, "u1", "new", []Message{{Role: "human", Content: "b"}}))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "u1__old.jsonl"), past, past))

	deleted, err := sm.Prune(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	keys, err := sm.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1__new"}, keys)
}

func TestSessionManager_ConcurrentSets(t *testing.T) {
	sm, _ := setupTestManager(t, 0)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = sm.Set(ctx, "u1", "c1", []Message{{Role: "human", Content: "x"}, {Role: "ai", Content: "y"}})
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	out, err := sm.Get(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
