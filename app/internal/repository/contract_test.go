package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/repository"
)

// runContract exercises behaviour every Repository implementation must share.
func runContract(t *testing.T, newRepo func(t *testing.T) repository.Repository) {
	t.Run("models", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.GetModel(ctx, "missing")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		require.NoError(t, repo.UpsertModel(ctx, entities.Model{ID: "b", Label: "B", PriceIn: 0.01, PriceOut: 0.02, Margin: 10}))
		require.NoError(t, repo.UpsertModel(ctx, entities.Model{ID: "a", Label: "A", PriceIn: 1, PriceOut: 2}))
		require.NoError(t, repo.UpsertModel(ctx, entities.Model{ID: "b", Label: "B2", PriceIn: 0.03, PriceOut: 0.04, Margin: 5}))

		m, err := repo.GetModel(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, entities.Model{ID: "b", Label: "B2", PriceIn: 0.03, PriceOut: 0.04, Margin: 5}, *m)

		models, err := repo.ListModels(ctx)
		require.NoError(t, err)
		require.Len(t, models, 2)
		assert.Equal(t, "a", models[0].ID)
		assert.Equal(t, "b", models[1].ID)
	})

	t.Run("sessions are scoped to their owner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		sess, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.ID)
		assert.Nil(t, sess.Title)

		got, err := repo.GetSession(ctx, sess.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
		assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))

		_, err = repo.GetSession(ctx, sess.ID, "mallory")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		_, err = repo.GetSession(ctx, "no-such-session", "alice")
		assert.ErrorIs(t, err, entities.ErrNotFound)
	})

	t.Run("list sessions newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		second, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		_, err = repo.CreateSession(ctx, "bob")
		require.NoError(t, err)

		sessions, err := repo.ListSessions(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, second.ID, sessions[0].ID)
		assert.Equal(t, first.ID, sessions[1].ID)
	})

	t.Run("latest empty session", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.FindLatestEmptySession(ctx, "alice")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		older, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		used, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		_, err = repo.AppendMessage(ctx, used.ID, entities.RoleUser, "hi")
		require.NoError(t, err)

		found, err := repo.FindLatestEmptySession(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, older.ID, found.ID)

		_, err = repo.FindLatestEmptySession(ctx, "bob")
		assert.ErrorIs(t, err, entities.ErrNotFound)
	})

	t.Run("messages strictly ascending", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		sess, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			role := entities.RoleUser
			if i%2 == 1 {
				role = entities.RoleAssistant
			}
			_, err := repo.AppendMessage(ctx, sess.ID, role, "message")
			require.NoError(t, err)
		}

		msgs, err := repo.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 20)
		for i := 1; i < len(msgs); i++ {
			assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "message %d not after message %d", i, i-1)
		}
		assert.Equal(t, entities.RoleUser, msgs[0].Role)
		assert.Equal(t, entities.RoleAssistant, msgs[1].Role)

		_, err = repo.AppendMessage(ctx, "no-such-session", entities.RoleUser, "hi")
		assert.ErrorIs(t, err, entities.ErrNotFound)
	})

	t.Run("concurrent appends keep distinct timestamps", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		sess, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)

		const writers = 16
		errs := make(chan error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.AppendMessage(ctx, sess.ID, entities.RoleUser, "message")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		msgs, err := repo.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, msgs, writers)
		for i := 1; i < len(msgs); i++ {
			assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "message %d not after message %d", i, i-1)
		}
	})

	t.Run("title is set once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		sess, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)

		ok, err := repo.SetSessionTitleIfEmpty(ctx, sess.ID, "First title for the chat")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.SetSessionTitleIfEmpty(ctx, sess.ID, "Second title for the chat")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetSession(ctx, sess.ID, "alice")
		require.NoError(t, err)
		require.NotNil(t, got.Title)
		assert.Equal(t, "First title for the chat", *got.Title)
	})

	t.Run("delete session", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		sess, err := repo.CreateSession(ctx, "alice")
		require.NoError(t, err)
		_, err = repo.AppendMessage(ctx, sess.ID, entities.RoleUser, "hi")
		require.NoError(t, err)

		err = repo.DeleteSession(ctx, sess.ID, "mallory")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		msgs, err := repo.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 1, "foreign delete must leave messages intact")

		require.NoError(t, repo.DeleteSession(ctx, sess.ID, "alice"))

		_, err = repo.GetSession(ctx, sess.ID, "alice")
		assert.ErrorIs(t, err, entities.ErrNotFound)
		msgs, err = repo.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		err = repo.DeleteSession(ctx, sess.ID, "alice")
		assert.ErrorIs(t, err, entities.ErrNotFound)
	})

	t.Run("templates", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		tmpl, err := repo.CreateTemplate(ctx, "alice", "greeting", "Hello {{name}}")
		require.NoError(t, err)
		assert.Equal(t, "greeting", tmpl.Name)

		_, err = repo.GetTemplate(ctx, tmpl.ID, "bob")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		updated, err := repo.UpdateTemplate(ctx, tmpl.ID, "alice", "greeting v2", "Hi {{name}}")
		require.NoError(t, err)
		assert.Equal(t, "Hi {{name}}", updated.Body)
		assert.False(t, updated.UpdatedAt.Before(tmpl.UpdatedAt))

		_, err = repo.UpdateTemplate(ctx, tmpl.ID, "bob", "x", "y")
		assert.ErrorIs(t, err, entities.ErrNotFound)

		list, err := repo.ListTemplates(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "greeting v2", list[0].Name)

		list, err = repo.ListTemplates(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, list)

		assert.ErrorIs(t, repo.DeleteTemplate(ctx, tmpl.ID, "bob"), entities.ErrNotFound)
		require.NoError(t, repo.DeleteTemplate(ctx, tmpl.ID, "alice"))
		assert.ErrorIs(t, repo.DeleteTemplate(ctx, tmpl.ID, "alice"), entities.ErrNotFound)
	})
}
