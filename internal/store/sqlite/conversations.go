// Package sqlite is the embedded, no-Postgres fallback used when the
// gateway runs standalone (config.IsStandalone: Database.Mode is
// "standalone" or no Postgres DSN is set).
// It implements only store.ConversationStore: the working set an Agent
// Runtime actually needs to function without a Postgres instance. Memory,
// Knowledge, Review, Cron, Agents and Routes require Postgres (vector/FTS
// columns have no sqlite equivalent worth building here) and are nil in
// standalone mode, mirroring the teacher's "managed-only stores are nil in
// standalone mode" comment on store.Stores.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	channel_id TEXT,
	session_key TEXT UNIQUE,
	title TEXT,
	type TEXT NOT NULL DEFAULT 'direct',
	inbox_status TEXT,
	contact_id TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	context_window_cache INTEGER NOT NULL DEFAULT 0,
	last_prompt_tokens INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_agent_idx ON conversations (agent_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT,
	tool_calls TEXT,
	tool_results TEXT,
	model TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	attachments TEXT,
	pinned INTEGER NOT NULL DEFAULT 0,
	reported INTEGER NOT NULL DEFAULT 0,
	reply_to TEXT,
	forward_of TEXT,
	trace_id TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);
`

// Store implements store.ConversationStore over an embedded SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) the SQLite-backed conversation store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id *uuid.UUID, agentID string, convType string) (*store.Conversation, error) {
	if id != nil {
		c, err := s.Get(ctx, *id)
		if err == nil {
			return c, nil
		}
		if err != store.ErrNotFound {
			return nil, err
		}
	}
	now := time.Now()
	c := &store.Conversation{ID: uuid.Must(uuid.NewV7()), AgentID: agentID, Type: convType,
		Metadata: json.RawMessage(`{}`), CreatedAt: now, UpdatedAt: now}
	if id != nil {
		c.ID = *id
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent_id, type, metadata, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		c.ID.String(), c.AgentID, c.Type, string(c.Metadata), iso(c.CreatedAt), iso(c.UpdatedAt))
	if err != nil {
		return nil, &store.StorageError{Op: "sqlite.conversations.create", Err: err}
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	return s.scanOne(ctx, "id = ?", id.String())
}

func (s *Store) GetBySessionKey(ctx context.Context, key string) (*store.Conversation, error) {
	return s.scanOne(ctx, "session_key = ?", key)
}

func (s *Store) scanOne(ctx context.Context, where string, arg any) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
		inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
		FROM conversations WHERE `+where, arg)

	var c store.Conversation
	var idStr string
	var channelID, sessionKey, title, inboxStatus, contactID sql.NullString
	var metadata string
	var createdAt, updatedAt string
	if err := row.Scan(&idStr, &c.AgentID, &channelID, &sessionKey, &title, &c.Type, &inboxStatus,
		&contactID, &metadata, &c.ContextWindowCache, &c.LastPromptTokens, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, &store.StorageError{Op: "sqlite.conversations.get", Err: err}
	}
	c.ID, _ = uuid.Parse(idStr)
	c.ChannelID, c.SessionKey, c.Title, c.InboxStatus, c.ContactID = channelID.String, sessionKey.String, title.String, inboxStatus.String, contactID.String
	c.Metadata = json.RawMessage(metadata)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

func (s *Store) Update(ctx context.Context, c *store.Conversation) error {
	c.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET channel_id=?, session_key=?, title=?, type=?, inbox_status=?,
		 contact_id=?, metadata=?, context_window_cache=?, last_prompt_tokens=?, updated_at=? WHERE id=?`,
		nullable(c.ChannelID), nullable(c.SessionKey), nullable(c.Title), c.Type, nullable(c.InboxStatus),
		nullable(c.ContactID), string(c.Metadata), c.ContextWindowCache, c.LastPromptTokens, iso(c.UpdatedAt), c.ID.String())
	if err != nil {
		return &store.StorageError{Op: "sqlite.conversations.update", Err: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, id.String())
	if err != nil {
		return &store.StorageError{Op: "sqlite.conversations.delete", Err: err}
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id=?`, id.String())
	return nil
}

func (s *Store) List(ctx context.Context, agentID string, limit, offset int) ([]*store.Conversation, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	var rows *sql.Rows
	var err error
	if agentID != "" {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE agent_id=?`, agentID).Scan(&total); err != nil {
			return nil, 0, &store.StorageError{Op: "sqlite.conversations.list.count", Err: err}
		}
		rows, err = s.db.QueryContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
			inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
			FROM conversations WHERE agent_id=? ORDER BY updated_at DESC LIMIT ? OFFSET ?`, agentID, limit, offset)
	} else {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total); err != nil {
			return nil, 0, &store.StorageError{Op: "sqlite.conversations.list.count", Err: err}
		}
		rows, err = s.db.QueryContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
			inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
			FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	if err != nil {
		return nil, total, &store.StorageError{Op: "sqlite.conversations.list", Err: err}
	}
	defer rows.Close()

	var result []*store.Conversation
	for rows.Next() {
		var c store.Conversation
		var idStr string
		var channelID, sessionKey, title, inboxStatus, contactID sql.NullString
		var metadata, createdAt, updatedAt string
		if err := rows.Scan(&idStr, &c.AgentID, &channelID, &sessionKey, &title, &c.Type, &inboxStatus,
			&contactID, &metadata, &c.ContextWindowCache, &c.LastPromptTokens, &createdAt, &updatedAt); err != nil {
			continue
		}
		c.ID, _ = uuid.Parse(idStr)
		c.ChannelID, c.SessionKey, c.Title, c.InboxStatus, c.ContactID = channelID.String, sessionKey.String, title.String, inboxStatus.String, contactID.String
		c.Metadata = json.RawMessage(metadata)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		result = append(result, &c)
	}
	return result, total, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	toolCalls, _ := json.Marshal(msg.ToolCalls)
	toolResults, _ := json.Marshal(msg.ToolResults)
	attachments, _ := json.Marshal(msg.Attachments)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results, model,
		 input_tokens, output_tokens, attachments, pinned, reported, reply_to, forward_of, trace_id, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		msg.ID.String(), msg.ConversationID.String(), msg.Role, nullable(msg.Content), string(toolCalls),
		string(toolResults), nullable(msg.Model), msg.Usage.InputTokens, msg.Usage.OutputTokens,
		string(attachments), boolInt(msg.Pinned), boolInt(msg.Reported), uuidPtrStr(msg.ReplyTo),
		uuidPtrStr(msg.ForwardOf), uuidPtrStr(msg.TraceID), iso(msg.CreatedAt))
	if err != nil {
		return &store.StorageError{Op: "sqlite.messages.append", Err: err}
	}
	return nil
}

func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 8
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, model, input_tokens,
		 output_tokens, attachments, pinned, reported, reply_to, forward_of, trace_id, created_at
		 FROM (SELECT * FROM messages WHERE conversation_id=? ORDER BY created_at DESC LIMIT ?) ORDER BY created_at ASC`,
		conversationID.String(), limit)
	if err != nil {
		return nil, &store.StorageError{Op: "sqlite.messages.history", Err: err}
	}
	defer rows.Close()

	var result []*store.Message
	for rows.Next() {
		m := &store.Message{}
		var id, convID string
		var content, model, replyTo, forwardOf, traceID sql.NullString
		var toolCalls, toolResults, attachments string
		var pinned, reported int
		var createdAt string
		if err := rows.Scan(&id, &convID, &m.Role, &content, &toolCalls, &toolResults, &model,
			&m.Usage.InputTokens, &m.Usage.OutputTokens, &attachments, &pinned, &reported, &replyTo,
			&forwardOf, &traceID, &createdAt); err != nil {
			continue
		}
		m.ID, _ = uuid.Parse(id)
		m.ConversationID, _ = uuid.Parse(convID)
		m.Content, m.Model = content.String, model.String
		_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		_ = json.Unmarshal([]byte(toolResults), &m.ToolResults)
		_ = json.Unmarshal([]byte(attachments), &m.Attachments)
		m.Pinned, m.Reported = pinned != 0, reported != 0
		m.ReplyTo = parseUUIDPtr(replyTo)
		m.ForwardOf = parseUUIDPtr(forwardOf)
		m.TraceID = parseUUIDPtr(traceID)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, m)
	}
	return result, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content=? WHERE id=?`, content, id.String())
	if err != nil {
		return &store.StorageError{Op: "sqlite.messages.update", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func iso(t time.Time) string { return t.Format(time.RFC3339Nano) }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func uuidPtrStr(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func parseUUIDPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid || s.String == "" {
		return nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &u
}
