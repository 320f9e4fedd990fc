package session_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/llm"
	"github.com/marketconnect/llm-workbench/app/internal/repository"
	"github.com/marketconnect/llm-workbench/app/internal/session"
)

type fakeStream struct {
	chunks []string
	err    error
	// if set, Recv blocks on it before every chunk after the first
	gate <-chan struct{}
	pos  int
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.gate != nil && s.pos > 0 {
		<-s.gate
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

type mockModel struct {
	StreamTextFunc     func(ctx context.Context, messages []llm.Message) (llm.ChunkStream, error)
	GenerateObjectFunc func(ctx context.Context, req llm.ObjectRequest) (map[string]string, error)
}

func (m *mockModel) StreamText(ctx context.Context, messages []llm.Message) (llm.ChunkStream, error) {
	if m.StreamTextFunc != nil {
		return m.StreamTextFunc(ctx, messages)
	}
	return nil, errors.New("StreamTextFunc not implemented")
}

func (m *mockModel) GenerateObject(ctx context.Context, req llm.ObjectRequest) (map[string]string, error) {
	if m.GenerateObjectFunc != nil {
		return m.GenerateObjectFunc(ctx, req)
	}
	return nil, errors.New("GenerateObjectFunc not implemented")
}

func answering(chunks ...string) func(context.Context, []llm.Message) (llm.ChunkStream, error) {
	return func(context.Context, []llm.Message) (llm.ChunkStream, error) {
		return &fakeStream{chunks: chunks}, nil
	}
}

func titled(title string, calls *atomic.Int32) func(context.Context, llm.ObjectRequest) (map[string]string, error) {
	return func(context.Context, llm.ObjectRequest) (map[string]string, error) {
		calls.Add(1)
		return map[string]string{"title": title}, nil
	}
}

func newManager(t *testing.T, model *mockModel, opts session.Options) (*session.SessionManager, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	opts.Logger = log.New(io.Discard, "", 0)
	sm := session.NewSessionManager(repo, model, opts)
	t.Cleanup(func() { sm.Close() })
	return sm, repo
}

func TestRespond_NewSession(t *testing.T) {
	var titleCalls atomic.Int32
	var prompt []llm.Message
	model := &mockModel{
		StreamTextFunc: func(ctx context.Context, messages []llm.Message) (llm.ChunkStream, error) {
			prompt = messages
			return &fakeStream{chunks: []string{"2 + 2", " equals ", "4."}}, nil
		},
		GenerateObjectFunc: titled("Simple arithmetic question", &titleCalls),
	}
	sm, _ := newManager(t, model, session.Options{})
	ctx := context.Background()

	reply, err := sm.Respond(ctx, "u1", "", "What is 2+2?")
	require.NoError(t, err)
	assert.True(t, reply.Created)
	assert.NotEmpty(t, reply.SessionID)

	var chunks []string
	for c := range reply.Chunks() {
		chunks = append(chunks, c)
	}
	require.NoError(t, reply.Err())
	assert.Equal(t, []string{"2 + 2", " equals ", "4."}, chunks)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "What is 2+2?"}}, prompt)

	sm.Wait()

	sess, err := sm.GetSession(ctx, reply.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, entities.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "What is 2+2?", sess.Messages[0].Content)
	assert.Equal(t, entities.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, "2 + 2 equals 4.", sess.Messages[1].Content)
	assert.True(t, sess.Messages[0].CreatedAt.Before(sess.Messages[1].CreatedAt))

	require.NotNil(t, sess.Title)
	assert.Equal(t, "Simple arithmetic question", *sess.Title)
	assert.EqualValues(t, 1, titleCalls.Load())
}

func TestRespond_TitleOnlyOnFirstExchange(t *testing.T) {
	var titleCalls atomic.Int32
	model := &mockModel{
		StreamTextFunc:     answering("ok"),
		GenerateObjectFunc: titled("Simple arithmetic question", &titleCalls),
	}
	sm, _ := newManager(t, model, session.Options{})
	ctx := context.Background()

	reply, err := sm.Respond(ctx, "u1", "", "What is 2+2?")
	require.NoError(t, err)
	_, err = reply.Text()
	require.NoError(t, err)
	sm.Wait()

	model.GenerateObjectFunc = titled("A completely different title", &titleCalls)
	reply, err = sm.Respond(ctx, "u1", reply.SessionID, "And 3+3?")
	require.NoError(t, err)
	assert.False(t, reply.Created)
	_, err = reply.Text()
	require.NoError(t, err)
	sm.Wait()

	sess, err := sm.GetSession(ctx, reply.SessionID, "u1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)
	require.NotNil(t, sess.Title)
	assert.Equal(t, "Simple arithmetic question", *sess.Title)
	assert.EqualValues(t, 1, titleCalls.Load())
}

func TestRespond_ExistingEmptySessionGetsTitle(t *testing.T) {
	var titleCalls atomic.Int32
	model := &mockModel{
		StreamTextFunc:     answering("Hello!"),
		GenerateObjectFunc: titled("Friendly greeting exchange", &titleCalls),
	}
	sm, _ := newManager(t, model, session.Options{})
	ctx := context.Background()

	empty, err := sm.GetOrCreateEmptySession(ctx, "u1")
	require.NoError(t, err)

	reply, err := sm.Respond(ctx, "u1", empty.ID, "Hi there!")
	require.NoError(t, err)
	assert.False(t, reply.Created)
	assert.Equal(t, empty.ID, reply.SessionID)
	text, err := reply.Text()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
	sm.Wait()

	sess, err := sm.GetSession(ctx, empty.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, sess.Title)
	assert.Equal(t, "Friendly greeting exchange", *sess.Title)
}

func TestRespond_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name   string
		stream func(context.Context, []llm.Message) (llm.ChunkStream, error)
	}{
		{
			name: "stream fails before first chunk",
			stream: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
				return &fakeStream{err: errors.New("connection reset")}, nil
			},
		},
		{
			name: "request rejected",
			stream: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
				return nil, errors.New("status=500")
			},
		},
		{
			name: "stream fails midway",
			stream: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
				return &fakeStream{chunks: []string{"partial"}, err: entities.ErrUpstream}, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titleCalls atomic.Int32
			model := &mockModel{
				StreamTextFunc:     tt.stream,
				GenerateObjectFunc: titled("Never generated here", &titleCalls),
			}
			sm, _ := newManager(t, model, session.Options{})
			ctx := context.Background()

			reply, err := sm.Respond(ctx, "u1", "", "Hi there!")
			require.NoError(t, err)
			_, err = reply.Text()
			assert.ErrorIs(t, err, entities.ErrUpstream)
			sm.Wait()

			msgs, err := sm.GetHistory(ctx, reply.SessionID, "u1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, entities.RoleUser, msgs[0].Role)
			assert.Equal(t, "Hi there!", msgs[0].Content)
			assert.Zero(t, titleCalls.Load())
		})
	}
}

func TestRespond_CallerCancellationStillPersists(t *testing.T) {
	gate := make(chan struct{})
	var titleCalls atomic.Int32
	model := &mockModel{
		StreamTextFunc: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
			return &fakeStream{chunks: []string{"Hel", "lo", "!"}, gate: gate}, nil
		},
		GenerateObjectFunc: titled("Friendly greeting exchange", &titleCalls),
	}
	sm, _ := newManager(t, model, session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	reply, err := sm.Respond(ctx, "u1", "", "Hi there!")
	require.NoError(t, err)

	select {
	case first := <-reply.Chunks():
		assert.Equal(t, "Hel", first)
	case <-time.After(time.Second):
		t.Fatal("no chunk received")
	}

	cancel()
	close(gate)
	for range reply.Chunks() {
	}
	require.NoError(t, reply.Err())
	sm.Wait()

	msgs, err := sm.GetHistory(context.Background(), reply.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello!", msgs[1].Content)
	assert.EqualValues(t, 1, titleCalls.Load())
}

func TestRespond_GenerationIgnoresCallerCancellation(t *testing.T) {
	var genCtx context.Context
	model := &mockModel{
		StreamTextFunc: func(ctx context.Context, _ []llm.Message) (llm.ChunkStream, error) {
			genCtx = ctx
			return &fakeStream{chunks: []string{"ok"}}, nil
		},
		GenerateObjectFunc: func(context.Context, llm.ObjectRequest) (map[string]string, error) {
			return map[string]string{"title": "Irrelevant title here"}, nil
		},
	}
	sm, _ := newManager(t, model, session.Options{GenerationTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	reply, err := sm.Respond(ctx, "u1", "", "Hi there!")
	require.NoError(t, err)
	cancel()
	reply.Text()
	sm.Wait()

	require.NotNil(t, genCtx)
	_, hasDeadline := genCtx.Deadline()
	assert.True(t, hasDeadline)
}

func TestRespond_AbandonedReplyCompletes(t *testing.T) {
	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "x"
	}
	model := &mockModel{
		StreamTextFunc: answering(chunks...),
		GenerateObjectFunc: func(context.Context, llm.ObjectRequest) (map[string]string, error) {
			return map[string]string{"title": "Repeated letters"}, nil
		},
	}
	sm, _ := newManager(t, model, session.Options{
		GenerationTimeout: 50 * time.Millisecond,
		StreamBuffer:      1,
	})
	ctx := context.Background()

	// nobody reads reply.Chunks()
	reply, err := sm.Respond(ctx, "u1", "", "Say x fifty times")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sm.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background work did not finish for an unread reply")
	}

	history, err := sm.GetHistory(ctx, reply.SessionID, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entities.RoleAssistant, history[1].Role)
	assert.Equal(t, strings.Repeat("x", 50), history[1].Content)
}

func TestRespond_Validation(t *testing.T) {
	var streamed atomic.Int32
	model := &mockModel{
		StreamTextFunc: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
			streamed.Add(1)
			return &fakeStream{}, nil
		},
	}
	sm, repo := newManager(t, model, session.Options{})
	ctx := context.Background()

	_, err := sm.Respond(ctx, "u1", "", "   ")
	assert.ErrorIs(t, err, entities.ErrValidation)

	sessions, err := repo.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Zero(t, streamed.Load())
}

func TestRespond_ForeignSession(t *testing.T) {
	var streamed atomic.Int32
	model := &mockModel{
		StreamTextFunc: func(context.Context, []llm.Message) (llm.ChunkStream, error) {
			streamed.Add(1)
			return &fakeStream{}, nil
		},
	}
	sm, _ := newManager(t, model, session.Options{})
	ctx := context.Background()

	owned, err := sm.CreateSession(ctx, "u1")
	require.NoError(t, err)

	_, err = sm.Respond(ctx, "u2", owned.ID, "Hi there!")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	_, err = sm.Respond(ctx, "u1", "does-not-exist", "Hi there!")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	msgs, err := sm.GetHistory(ctx, owned.ID, "u1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, streamed.Load())
}

func TestRespond_TitleRetries(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"validation failures are retried", entities.ErrValidation, 3},
		{"upstream failures are not retried", entities.ErrUpstream, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			model := &mockModel{
				StreamTextFunc: answering("Hello!"),
				GenerateObjectFunc: func(context.Context, llm.ObjectRequest) (map[string]string, error) {
					calls.Add(1)
					return nil, tt.err
				},
			}
			sm, _ := newManager(t, model, session.Options{TitleMaxAttempts: 3})
			ctx := context.Background()

			reply, err := sm.Respond(ctx, "u1", "", "Hi there!")
			require.NoError(t, err)
			_, err = reply.Text()
			require.NoError(t, err, "title failures never reach the reply")
			sm.Wait()

			sess, err := sm.GetSession(ctx, reply.SessionID, "u1")
			require.NoError(t, err)
			assert.Nil(t, sess.Title)
			assert.Len(t, sess.Messages, 2)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRespond_TitleRequest(t *testing.T) {
	var got llm.ObjectRequest
	model := &mockModel{
		StreamTextFunc: answering("2 + 2 equals 4."),
		GenerateObjectFunc: func(_ context.Context, req llm.ObjectRequest) (map[string]string, error) {
			got = req
			return map[string]string{"title": "Simple arithmetic question"}, nil
		},
	}
	sm, _ := newManager(t, model, session.Options{})

	reply, err := sm.Respond(context.Background(), "u1", "", "What is 2+2?")
	require.NoError(t, err)
	reply.Text()
	sm.Wait()

	assert.Contains(t, got.System, "chat session title")
	require.Len(t, got.Schema.Fields, 1)
	assert.Equal(t, "title", got.Schema.Fields[0].Name)
	assert.Equal(t, 10, got.Schema.Fields[0].MinLength)
	assert.Equal(t, 100, got.Schema.Fields[0].MaxLength)
	assert.Equal(t, []llm.Message{
		{Role: "user", Content: "What is 2+2?"},
		{Role: "assistant", Content: "2 + 2 equals 4."},
	}, got.Messages)
}

func TestGetOrCreateEmptySession(t *testing.T) {
	model := &mockModel{
		StreamTextFunc: answering("Hello!"),
		GenerateObjectFunc: func(context.Context, llm.ObjectRequest) (map[string]string, error) {
			return map[string]string{"title": "Friendly greeting exchange"}, nil
		},
	}
	sm, _ := newManager(t, model, session.Options{})
	ctx := context.Background()

	first, err := sm.GetOrCreateEmptySession(ctx, "u1")
	require.NoError(t, err)
	again, err := sm.GetOrCreateEmptySession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	reply, err := sm.Respond(ctx, "u1", first.ID, "Hi there!")
	require.NoError(t, err)
	reply.Text()
	sm.Wait()

	fresh, err := sm.GetOrCreateEmptySession(ctx, "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)

	other, err := sm.GetOrCreateEmptySession(ctx, "u2")
	require.NoError(t, err)
	assert.NotEqual(t, fresh.ID, other.ID)
	assert.Equal(t, "u2", other.UserID)
}

func TestSessionManager_DeleteAndList(t *testing.T) {
	sm, _ := newManager(t, &mockModel{}, session.Options{})
	ctx := context.Background()

	a, err := sm.CreateSession(ctx, "u1")
	require.NoError(t, err)
	b, err := sm.CreateSession(ctx, "u1")
	require.NoError(t, err)

	sessions, err := sm.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, b.ID, sessions[0].ID)

	err = sm.DeleteSession(ctx, a.ID, "u2")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	require.NoError(t, sm.DeleteSession(ctx, a.ID, "u1"))
	_, err = sm.GetSession(ctx, a.ID, "u1")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	err = sm.DeleteSession(ctx, a.ID, "u1")
	assert.ErrorIs(t, err, entities.ErrNotFound)

	sessions, err = sm.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, b.ID, sessions[0].ID)
}

func TestSessionManager_Close(t *testing.T) {
	var closeCalled bool
	repo := &closingRepository{MemoryRepository: repository.NewMemoryRepository(), onClose: func() { closeCalled = true }}
	sm := session.NewSessionManager(repo, &mockModel{}, session.Options{Logger: log.New(io.Discard, "", 0)})

	require.NoError(t, sm.Close())
	assert.True(t, closeCalled, "repository.Close was not called")
}

type closingRepository struct {
	*repository.MemoryRepository
	onClose func()
}

func (r *closingRepository) Close() error {
	r.onClose()
	return r.MemoryRepository.Close()
}
