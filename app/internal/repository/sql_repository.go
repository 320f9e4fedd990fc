package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// placeholder styles understood by rebind
const (
	bindQuestion = iota
	bindDollar
)

// schema is shared by SQLite and Postgres; timestamps are unix microseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS llm_models (
        id TEXT PRIMARY KEY,
        label TEXT NOT NULL DEFAULT '',
        price_in DOUBLE PRECISION NOT NULL DEFAULT 0,
        price_out DOUBLE PRECISION NOT NULL DEFAULT 0,
        margin DOUBLE PRECISION NOT NULL DEFAULT 0
    );`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        title TEXT,
        created_at BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS chat_sessions_user_idx ON chat_sessions (user_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY,
        chat_session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        created_at BIGINT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (chat_session_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS templates (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        body TEXT NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL
    );`,
}

// SQLRepository implements the Repository interface on database/sql.
// Queries are written with '?' placeholders and rebound for the driver.
type SQLRepository struct {
	db       *sql.DB
	dsn      string
	name     string
	bindType int
	now      func() time.Time
}

// Init creates the necessary tables if they don't exist.
func (r *SQLRepository) Init() error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize %s schema: %w", r.name, err)
		}
	}
	log.Printf("%s schema initialized successfully.", r.name)
	return nil
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLRepository) rebind(query string) string {
	if r.bindType != bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) UpsertModel(ctx context.Context, model entities.Model) error {
	query := `
    INSERT INTO llm_models (id, label, price_in, price_out, margin)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        label = excluded.label,
        price_in = excluded.price_in,
        price_out = excluded.price_out,
        margin = excluded.margin;`
	_, err := r.db.ExecContext(ctx, r.rebind(query), model.ID, model.Label, model.PriceIn, model.PriceOut, model.Margin)
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", model.ID, err)
	}
	return nil
}

func (r *SQLRepository) GetModel(ctx context.Context, modelID string) (*entities.Model, error) {
	query := `SELECT id, label, price_in, price_out, margin FROM llm_models WHERE id = ?;`
	var m entities.Model
	err := r.db.QueryRowContext(ctx, r.rebind(query), modelID).Scan(&m.ID, &m.Label, &m.PriceIn, &m.PriceOut, &m.Margin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

func (r *SQLRepository) ListModels(ctx context.Context) ([]entities.Model, error) {
	query := `SELECT id, label, price_in, price_out, margin FROM llm_models ORDER BY id;`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	models := make([]entities.Model, 0)
	for rows.Next() {
		var m entities.Model
		if err := rows.Scan(&m.ID, &m.Label, &m.PriceIn, &m.PriceOut, &m.Margin); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model rows: %w", err)
	}
	return models, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, userID string) (*entities.ChatSession, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT MAX(created_at) FROM chat_sessions WHERE user_id = ?;`), userID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest session time: %w", err)
	}

	sess := entities.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: nextTimestamp(r.now(), fromMicros(latest)),
	}
	_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO chat_sessions (id, user_id, title, created_at) VALUES (?, ?, NULL, ?);`),
		sess.ID, sess.UserID, sess.CreatedAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &sess, nil
}

func (r *SQLRepository) GetSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error) {
	query := `SELECT id, user_id, title, created_at FROM chat_sessions WHERE id = ? AND user_id = ?;`
	sess, err := scanSession(r.db.QueryRowContext(ctx, r.rebind(query), sessionID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (r *SQLRepository) FindLatestEmptySession(ctx context.Context, userID string) (*entities.ChatSession, error) {
	query := `
    SELECT s.id, s.user_id, s.title, s.created_at FROM chat_sessions s
    WHERE s.user_id = ?
      AND NOT EXISTS (SELECT 1 FROM chat_messages m WHERE m.chat_session_id = s.id)
    ORDER BY s.created_at DESC
    LIMIT 1;`
	sess, err := scanSession(r.db.QueryRowContext(ctx, r.rebind(query), userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find empty session: %w", err)
	}
	return sess, nil
}

func (r *SQLRepository) ListSessions(ctx context.Context, userID string) ([]entities.ChatSession, error) {
	query := `SELECT id, user_id, title, created_at FROM chat_sessions WHERE user_id = ? ORDER BY created_at DESC;`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]entities.ChatSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func (r *SQLRepository) SetSessionTitleIfEmpty(ctx context.Context, sessionID, title string) (bool, error) {
	query := `UPDATE chat_sessions SET title = ? WHERE id = ? AND (title IS NULL OR title = '');`
	res, err := r.db.ExecContext(ctx, r.rebind(query), title, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to set session title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) DeleteSession(ctx context.Context, sessionID, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT id FROM chat_sessions WHERE id = ? AND user_id = ?;`), sessionID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entities.ErrNotFound
		}
		return fmt.Errorf("failed to check session owner: %w", err)
	}

	if _, err = tx.ExecContext(ctx, r.rebind(`DELETE FROM chat_messages WHERE chat_session_id = ?;`), sessionID); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, r.rebind(`DELETE FROM chat_sessions WHERE id = ? AND user_id = ?;`), sessionID, userID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) AppendMessage(ctx context.Context, sessionID string, role entities.ChatMessageRole, content string) (*entities.ChatMessage, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Appends to one session are serialized so created_at stays strictly
	// increasing. SQLite gets this from its single connection.
	query := `SELECT id FROM chat_sessions WHERE id = ?`
	if r.bindType == bindDollar {
		query += ` FOR UPDATE`
	}

	var id string
	err = tx.QueryRowContext(ctx, r.rebind(query+`;`), sessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrNotFound
		}
		return nil, fmt.Errorf("failed to check session: %w", err)
	}

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT MAX(created_at) FROM chat_messages WHERE chat_session_id = ?;`), sessionID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest message time: %w", err)
	}

	msg := entities.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: nextTimestamp(r.now(), fromMicros(last)),
	}
	_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO chat_messages (id, chat_session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?);`),
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &msg, nil
}

func (r *SQLRepository) ListMessages(ctx context.Context, sessionID string) ([]entities.ChatMessage, error) {
	query := `SELECT id, chat_session_id, role, content, created_at FROM chat_messages
              WHERE chat_session_id = ? ORDER BY created_at ASC;`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]entities.ChatMessage, 0)
	for rows.Next() {
		var (
			msg     entities.ChatMessage
			role    string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = entities.ChatMessageRole(role)
		msg.CreatedAt = time.UnixMicro(created).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func (r *SQLRepository) CreateTemplate(ctx context.Context, userID, name, body string) (*entities.Template, error) {
	now := nextTimestamp(r.now(), time.Time{})
	tmpl := entities.Template{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query := `INSERT INTO templates (id, user_id, name, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?);`
	_, err := r.db.ExecContext(ctx, r.rebind(query), tmpl.ID, tmpl.UserID, tmpl.Name, tmpl.Body, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	return &tmpl, nil
}

func (r *SQLRepository) UpdateTemplate(ctx context.Context, templateID, userID, name, body string) (*entities.Template, error) {
	current, err := r.GetTemplate(ctx, templateID, userID)
	if err != nil {
		return nil, err
	}

	current.Name = name
	current.Body = body
	current.UpdatedAt = nextTimestamp(r.now(), current.UpdatedAt)

	query := `UPDATE templates SET name = ?, body = ?, updated_at = ? WHERE id = ? AND user_id = ?;`
	res, err := r.db.ExecContext(ctx, r.rebind(query), name, body, current.UpdatedAt.UnixMicro(), templateID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, entities.ErrNotFound
	}
	return current, nil
}

func (r *SQLRepository) DeleteTemplate(ctx context.Context, templateID, userID string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM templates WHERE id = ? AND user_id = ?;`), templateID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) GetTemplate(ctx context.Context, templateID, userID string) (*entities.Template, error) {
	query := `SELECT id, user_id, name, body, created_at, updated_at FROM templates WHERE id = ? AND user_id = ?;`
	tmpl, err := scanTemplate(r.db.QueryRowContext(ctx, r.rebind(query), templateID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

func (r *SQLRepository) ListTemplates(ctx context.Context, userID string) ([]entities.Template, error) {
	query := `SELECT id, user_id, name, body, created_at, updated_at FROM templates WHERE user_id = ? ORDER BY created_at ASC;`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := make([]entities.Template, 0)
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		templates = append(templates, *tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}
	return templates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*entities.ChatSession, error) {
	var (
		sess    entities.ChatSession
		title   sql.NullString
		created int64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &title, &created); err != nil {
		return nil, err
	}
	if title.Valid {
		t := title.String
		sess.Title = &t
	}
	sess.CreatedAt = time.UnixMicro(created).UTC()
	return &sess, nil
}

func scanTemplate(row rowScanner) (*entities.Template, error) {
	var (
		tmpl             entities.Template
		created, updated int64
	)
	if err := row.Scan(&tmpl.ID, &tmpl.UserID, &tmpl.Name, &tmpl.Body, &created, &updated); err != nil {
		return nil, err
	}
	tmpl.CreatedAt = time.UnixMicro(created).UTC()
	tmpl.UpdatedAt = time.UnixMicro(updated).UTC()
	return &tmpl, nil
}

func fromMicros(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMicro(v.Int64).UTC()
}
