package store_test

import (
	"context"
	"os"
	"testing"

	"ChatStream/models"
	"ChatStream/pkg/store"
	"ChatStream/pkg/store/storetest"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormStore(t *testing.T) {
	db := storetest.NewSQLite(t)
	owner := storetest.NewUser(t, db, "alice")
	other := storetest.NewUser(t, db, "bob")
	runStoreSuite(t, store.NewGormStore(db), owner, other)
}

func TestPgStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := store.OpenDB("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	owner := storetest.NewUser(t, db, "pg-alice-"+uuid.NewString())
	other := storetest.NewUser(t, db, "pg-bob-"+uuid.NewString())

	pool, err := store.ConnectPool(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	runStoreSuite(t, store.NewPgStore(pool), owner, other)
}

func runStoreSuite(t *testing.T, s store.Store, owner, other uint) {
	ctx := context.Background()

	t.Run("Ordering", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, owner, "ordering")
		require.NoError(t, err)

		texts := []string{"u1", "a1", "u2", "a2", "u3"}
		for i, txt := range texts {
			role := models.RoleUser
			if i%2 == 1 {
				role = models.RoleAssistant
			}
			_, err := s.Append(ctx, conv.ID, role, txt)
			require.NoError(t, err)
		}

		turns, err := s.ReadAll(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, turns, len(texts))
		for i := range turns {
			assert.Equal(t, texts[i], turns[i].Content)
			if i > 0 {
				assert.Greater(t, turns[i].ID, turns[i-1].ID)
			}
		}
	})

	t.Run("ReadAllEmpty", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, owner, "empty")
		require.NoError(t, err)
		turns, err := s.ReadAll(ctx, conv.ID)
		require.NoError(t, err)
		assert.NotNil(t, turns)
		assert.Empty(t, turns)
	})

	t.Run("AppendMissingConversation", func(t *testing.T) {
		_, err := s.Append(ctx, 999999, models.RoleUser, "hi")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("OwnerOf", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, owner, "owned")
		require.NoError(t, err)
		got, err := s.OwnerOf(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got)

		_, err = s.OwnerOf(ctx, 999999)
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("OverwriteAndDeleteAfter", func(t *testing.T) {
		conv, err := s.CreateConversation(ctx, owner, "edit")
		require.NoError(t, err)
		u1, _ := s.Append(ctx, conv.ID, models.RoleUser, "u1")
		a1, _ := s.Append(ctx, conv.ID, models.RoleAssistant, "a1")
		u2, _ := s.Append(ctx, conv.ID, models.RoleUser, "u2")
		_, _ = s.Append(ctx, conv.ID, models.RoleAssistant, "a2")
		_, _ = s.Append(ctx, conv.ID, models.RoleUser, "u3")

		err = s.Overwrite(ctx, a1.ID, "nope")
		assert.True(t, errors.Is(err, store.ErrInvalidOperation), "got %v", err)
		err = s.Overwrite(ctx, 999999, "nope")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

		require.NoError(t, s.Overwrite(ctx, u2.ID, "X"))
		n, err := s.DeleteAfter(ctx, conv.ID, u2.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		turns, err := s.ReadAll(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, u1.ID, turns[0].ID)
		assert.Equal(t, "a1", turns[1].Content)
		assert.Equal(t, "X", turns[2].Content)
		assert.Equal(t, models.RoleUser, turns[2].Role)
	})

	t.Run("ListConversationsByActivity", func(t *testing.T) {
		first, err := s.CreateConversation(ctx, other, "First topic")
		require.NoError(t, err)
		second, err := s.CreateConversation(ctx, other, "Second topic")
		require.NoError(t, err)
		empty, err := s.CreateConversation(ctx, other, "Quiet")
		require.NoError(t, err)
		_, err = s.Append(ctx, second.ID, models.RoleUser, "hello")
		require.NoError(t, err)
		// newest activity
		last, err := s.Append(ctx, first.ID, models.RoleUser, "again")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, other, "")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, last.ID, list[0].SortID)
		assert.EqualValues(t, 1, list[0].MessagesCount)
		for _, sum := range list {
			assert.Equal(t, other, sum.UserID)
			if sum.ID == empty.ID {
				assert.Equal(t, empty.ID, sum.SortID)
				assert.EqualValues(t, 0, sum.MessagesCount)
			}
		}
		for i := 1; i < len(list); i++ {
			assert.GreaterOrEqual(t, list[i-1].SortID, list[i].SortID)
		}

		filtered, err := s.ListConversations(ctx, other, "TOPIC")
		require.NoError(t, err)
		assert.Len(t, filtered, 2)
	})
}
