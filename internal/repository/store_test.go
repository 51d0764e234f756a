package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/models"
	"github.com/magicyang-1/chatshare-sub001/pkg/cache"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindAttachmentIsSetOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "a1", StorageKey: "k1"}))

	ok, err := store.BindAttachment(ctx, "a1", "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.BindAttachment(ctx, "a1", "m2")
	require.NoError(t, err)
	assert.False(t, ok)

	att, err := store.FindAttachmentByStorageKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, att.MessageID)
	assert.Equal(t, "m1", *att.MessageID)
}

func TestConcurrentBindHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "a1", StorageKey: "k1"}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.BindAttachment(ctx, "a1", string(rune('a'+i)))
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestUnboundByOriginalNameOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	bound := "m1"
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "new", OriginalName: "cat.png", CreatedAt: now}))
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "old", OriginalName: "cat.png", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "taken", OriginalName: "cat.png", MessageID: &bound, CreatedAt: now.Add(-2 * time.Hour)}))

	found, err := store.FindUnboundAttachmentsByOriginalName(ctx, "cat.png")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "old", found[0].ID)
	assert.Equal(t, "new", found[1].ID)
}

func TestDeleteSessionReturnsAttachmentKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "s1", OwnerID: 1}))
	require.NoError(t, store.SaveMessage(ctx, &models.Message{ID: "m1", SessionID: "s1", Role: models.RoleUser}))
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "a1", StorageKey: "k1"}))
	_, err := store.BindAttachment(ctx, "a1", "m1")
	require.NoError(t, err)

	keys, err := store.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	_, err = store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := store.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListSessionsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "old", OwnerID: 7, LastActivityAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "new", OwnerID: 7, LastActivityAt: now}))
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "other", OwnerID: 8, LastActivityAt: now}))

	sessions, total, err := store.ListSessions(ctx, 7, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, sessions, 1)
	assert.Equal(t, "new", sessions[0].ID)
}

// countingStore records how often the wrapped store is asked for a session
type countingStore struct {
	*MemoryStore
	gets int
}

func (c *countingStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	c.gets++
	return c.MemoryStore.GetSession(ctx, id)
}

func TestCachedStoreReadsThrough(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	mem := cache.NewCache(cache.Options{TTL: time.Minute})
	defer mem.Close()
	store := NewCachedStore(inner, mem.Bytes(), time.Minute, logger.Discard())

	require.NoError(t, inner.MemoryStore.CreateSession(ctx, &models.ChatSession{ID: "s1", Title: "first"}))

	s, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", s.Title)
	_, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)

	title := "renamed"
	_, err = store.UpdateSession(ctx, "s1", SessionPatch{Title: &title})
	require.NoError(t, err)
	s, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", s.Title)
	assert.Equal(t, 2, inner.gets)

	_, err = store.IncrementMessageCount(ctx, "s1", 2, time.Now())
	require.NoError(t, err)
	s, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.MessageCount)

	_, err = store.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	_, err = store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementMessageCountUnderContention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Now()
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "s1", LastActivityAt: start}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.IncrementMessageCount(ctx, "s1", 2, start.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 40, s.MessageCount)
	assert.True(t, s.LastActivityAt.Equal(start.Add(19*time.Second)))
}

func TestUpdateSessionLeavesOtherColumns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "s1", Title: "first"}))
	_, err := store.IncrementMessageCount(ctx, "s1", 4, time.Now())
	require.NoError(t, err)

	favorite := true
	s, err := store.UpdateSession(ctx, "s1", SessionPatch{Favorite: &favorite})
	require.NoError(t, err)
	assert.True(t, s.Favorite)
	assert.Equal(t, "first", s.Title)
	assert.Equal(t, 4, s.MessageCount)
}

func TestWritesToDeletedSessionDoNotRecreateIt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateSession(ctx, &models.ChatSession{ID: "s1"}))
	_, err := store.DeleteSession(ctx, "s1")
	require.NoError(t, err)

	title := "late"
	_, err = store.UpdateSession(ctx, "s1", SessionPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.IncrementMessageCount(ctx, "s1", 2, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnboundAttachmentKeepsBoundRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "a1", StorageKey: "k1"}))
	require.NoError(t, store.CreateAttachment(ctx, &models.Attachment{ID: "a2", StorageKey: "k2"}))
	_, err := store.BindAttachment(ctx, "a2", "m1")
	require.NoError(t, err)

	deleted, err := store.DeleteUnboundAttachment(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteUnboundAttachment(ctx, "a2")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = store.FindAttachmentByStorageKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindAttachmentByStorageKey(ctx, "k2")
	assert.NoError(t, err)
}
