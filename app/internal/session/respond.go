package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/llm"
)

const (
	titleInstruction = "Given the following chat session, generate a chat session title (~20-80 characters)"
	titleMinLength   = 10
	titleMaxLength   = 100
)

var titleSchema = llm.ObjectSchema{
	Name: "chat_session_title",
	Fields: []llm.StringField{
		{Name: "title", Description: "The title of chat session", MinLength: titleMinLength, MaxLength: titleMaxLength},
	},
}

// Reply is the streamed assistant answer to one user message.
//
// Chunks delivers text fragments in order and is closed when generation
// ends. Err reports the outcome and is only meaningful after Chunks is
// closed.
type Reply struct {
	SessionID string
	// Created is true when the session was created for this reply.
	Created bool

	chunks chan string
	err    error
}

func (r *Reply) Chunks() <-chan string {
	return r.chunks
}

func (r *Reply) Err() error {
	return r.err
}

// Text drains the reply and returns the concatenated answer.
func (r *Reply) Text() (string, error) {
	var sb strings.Builder
	for chunk := range r.chunks {
		sb.WriteString(chunk)
	}
	return sb.String(), r.err
}

// Respond records text as a user message and streams the assistant answer.
//
// When sessionID is empty a new session is created for userID. The user
// message is stored before Respond returns. Generation continues and the
// assistant message is stored even if ctx is cancelled while streaming; it
// is only bounded by the generation timeout. After the first exchange of a
// session a title is generated in the background.
func (sm *SessionManager) Respond(ctx context.Context, userID, sessionID, text string) (*Reply, error) {
	if err := validateMessage(text); err != nil {
		return nil, err
	}

	var (
		sess    *entities.ChatSession
		created bool
		prior   int
		err     error
	)
	if sessionID == "" {
		sess, err = sm.CreateSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		created = true
	} else {
		sess, err = sm.GetSession(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		prior = len(sess.Messages)
	}

	if _, err := sm.repository.AppendMessage(ctx, sess.ID, entities.RoleUser, text); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	reply := &Reply{
		SessionID: sess.ID,
		Created:   created,
		chunks:    make(chan string, sm.opts.StreamBuffer),
	}

	sm.tasks.Add(1)
	go sm.generate(ctx, reply, text, prior == 0)

	return reply, nil
}

func (sm *SessionManager) generate(callerCtx context.Context, reply *Reply, text string, firstExchange bool) {
	defer sm.tasks.Done()
	defer close(reply.chunks)

	detached := context.WithoutCancel(callerCtx)
	ctx, cancel := context.WithTimeout(detached, sm.opts.GenerationTimeout)
	defer cancel()

	answer, err := sm.stream(ctx, callerCtx, reply, text)
	if err != nil {
		if !errors.Is(err, entities.ErrUpstream) {
			err = fmt.Errorf("%w: %v", entities.ErrUpstream, err)
		}
		sm.logger.Printf("generation failed for session %s: %v", reply.SessionID, err)
		reply.err = err
		return
	}

	if _, err := sm.repository.AppendMessage(detached, reply.SessionID, entities.RoleAssistant, answer); err != nil {
		sm.logger.Printf("failed to save assistant message for session %s: %v", reply.SessionID, err)
		reply.err = fmt.Errorf("failed to save assistant message: %w", err)
		return
	}

	if firstExchange {
		sm.tasks.Add(1)
		go sm.generateTitle(detached, reply.SessionID, text, answer)
	}
}

// stream forwards chunks to the reply while the caller is listening and
// accumulates the full answer regardless.
func (sm *SessionManager) stream(ctx, callerCtx context.Context, reply *Reply, text string) (string, error) {
	chunks, err := sm.model.StreamText(ctx, []llm.Message{{Role: string(entities.RoleUser), Content: text}})
	if err != nil {
		return "", err
	}
	defer chunks.Close()

	var answer strings.Builder
	forwarding := true
	for {
		chunk, err := chunks.Recv()
		if err == io.EOF {
			return answer.String(), nil
		}
		if err != nil {
			return "", err
		}
		answer.WriteString(chunk)

		if !forwarding {
			continue
		}
		if callerCtx.Err() != nil {
			forwarding = false
			sm.logger.Printf("caller left session %s, finishing generation in background", reply.SessionID)
			continue
		}
		select {
		case reply.chunks <- chunk:
		case <-callerCtx.Done():
			forwarding = false
			sm.logger.Printf("caller left session %s, finishing generation in background", reply.SessionID)
		case <-ctx.Done():
			forwarding = false
			sm.logger.Printf("reply for session %s not consumed, finishing generation in background", reply.SessionID)
		}
	}
}

func (sm *SessionManager) generateTitle(ctx context.Context, sessionID, userText, assistantText string) {
	defer sm.tasks.Done()

	ctx, cancel := context.WithTimeout(ctx, sm.opts.TitleTimeout)
	defer cancel()

	title, err := sm.deriveTitle(ctx, userText, assistantText)
	if err != nil {
		sm.logger.Printf("title generation failed for session %s: %v", sessionID, err)
		return
	}

	updated, err := sm.repository.SetSessionTitleIfEmpty(ctx, sessionID, title)
	if err != nil {
		sm.logger.Printf("failed to save title for session %s: %v", sessionID, err)
		return
	}
	if !updated {
		sm.logger.Printf("session %s already has a title, keeping it", sessionID)
	}
}

// deriveTitle asks the model for a title, retrying only when the answer
// fails schema validation.
func (sm *SessionManager) deriveTitle(ctx context.Context, userText, assistantText string) (string, error) {
	req := llm.ObjectRequest{
		System: titleInstruction,
		Schema: titleSchema,
		Messages: []llm.Message{
			{Role: string(entities.RoleUser), Content: userText},
			{Role: string(entities.RoleAssistant), Content: assistantText},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= sm.opts.TitleMaxAttempts; attempt++ {
		obj, err := sm.model.GenerateObject(ctx, req)
		if err == nil {
			return obj["title"], nil
		}
		lastErr = err
		if !errors.Is(err, entities.ErrValidation) {
			break
		}
		sm.logger.Printf("title attempt %d/%d rejected: %v", attempt, sm.opts.TitleMaxAttempts, err)
	}
	return "", lastErr
}
