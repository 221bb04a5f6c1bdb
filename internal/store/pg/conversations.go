package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGConversationStore implements store.ConversationStore. It is grounded in
// the teacher's PGSessionStore: direct *sql.DB access with no in-memory
// cache, since a Conversation's hot state (history) is re-read per turn by
// the Agent Runtime rather than held across calls.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

func (s *PGConversationStore) GetOrCreate(ctx context.Context, id *uuid.UUID, agentID string, convType string) (*store.Conversation, error) {
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
	c := &store.Conversation{
		ID:        uuid.Must(uuid.NewV7()),
		AgentID:   agentID,
		Type:      convType,
		Metadata:  json.RawMessage(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if id != nil {
		c.ID = *id
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent_id, type, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.AgentID, c.Type, []byte(c.Metadata), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, &store.StorageError{Op: "conversations.create", Err: err}
	}
	return c, nil
}

func (s *PGConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	return s.scanOne(ctx, "id = $1", id)
}

func (s *PGConversationStore) GetBySessionKey(ctx context.Context, key string) (*store.Conversation, error) {
	return s.scanOne(ctx, "session_key = $1", key)
}

func (s *PGConversationStore) scanOne(ctx context.Context, where string, arg any) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
		inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
		FROM conversations WHERE `+where, arg)

	var c store.Conversation
	var channelID, sessionKey, title, inboxStatus, contactID *string
	var metadata []byte
	if err := row.Scan(&c.ID, &c.AgentID, &channelID, &sessionKey, &title, &c.Type,
		&inboxStatus, &contactID, &metadata, &c.ContextWindowCache, &c.LastPromptTokens,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, &store.StorageError{Op: "conversations.get", Err: err}
	}
	c.ChannelID = derefStr(channelID)
	c.SessionKey = derefStr(sessionKey)
	c.Title = derefStr(title)
	c.InboxStatus = derefStr(inboxStatus)
	c.ContactID = derefStr(contactID)
	c.Metadata = metadata
	return &c, nil
}

func (s *PGConversationStore) Update(ctx context.Context, c *store.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET channel_id=$1, session_key=$2, title=$3, type=$4,
		 inbox_status=$5, contact_id=$6, metadata=$7, context_window_cache=$8,
		 last_prompt_tokens=$9, updated_at=$10 WHERE id=$11`,
		nilStr(c.ChannelID), nilStr(c.SessionKey), nilStr(c.Title), c.Type,
		nilStr(c.InboxStatus), nilStr(c.ContactID), []byte(c.Metadata), c.ContextWindowCache,
		c.LastPromptTokens, time.Now(), c.ID,
	)
	if err != nil {
		return &store.StorageError{Op: "conversations.update", Err: err}
	}
	return nil
}

func (s *PGConversationStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return &store.StorageError{Op: "conversations.delete", Err: err}
	}
	return nil
}

func (s *PGConversationStore) List(ctx context.Context, agentID string, limit, offset int) ([]*store.Conversation, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	var countErr error
	if agentID != "" {
		countErr = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE agent_id=$1`, agentID).Scan(&total)
	} else {
		countErr = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&total)
	}
	if countErr != nil {
		return nil, 0, &store.StorageError{Op: "conversations.list.count", Err: countErr}
	}

	var rows *sql.Rows
	var err error
	if agentID != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
			inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
			FROM conversations WHERE agent_id=$1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`, agentID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, agent_id, channel_id, session_key, title, type,
			inbox_status, contact_id, metadata, context_window_cache, last_prompt_tokens, created_at, updated_at
			FROM conversations ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, total, &store.StorageError{Op: "conversations.list", Err: err}
	}
	defer rows.Close()

	var result []*store.Conversation
	for rows.Next() {
		var c store.Conversation
		var channelID, sessionKey, title, inboxStatus, contactID *string
		var metadata []byte
		if err := rows.Scan(&c.ID, &c.AgentID, &channelID, &sessionKey, &title, &c.Type,
			&inboxStatus, &contactID, &metadata, &c.ContextWindowCache, &c.LastPromptTokens,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			continue
		}
		c.ChannelID = derefStr(channelID)
		c.SessionKey = derefStr(sessionKey)
		c.Title = derefStr(title)
		c.InboxStatus = derefStr(inboxStatus)
		c.ContactID = derefStr(contactID)
		c.Metadata = metadata
		result = append(result, &c)
	}
	return result, total, nil
}

func (s *PGConversationStore) AppendMessage(ctx context.Context, msg *store.Message) error {
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
		`INSERT INTO messages (id, conversation_id, role, content, tool_calls, tool_results,
		 model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, attachments,
		 pinned, reported, reply_to, forward_of, trace_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		msg.ID, msg.ConversationID, msg.Role, nilStr(msg.Content), toolCalls, toolResults,
		nilStr(msg.Model), msg.Usage.InputTokens, msg.Usage.OutputTokens,
		msg.Usage.CacheReadTokens, msg.Usage.CacheWriteTokens, attachments,
		msg.Pinned, msg.Reported, msg.ReplyTo, msg.ForwardOf, msg.TraceID, msg.CreatedAt,
	)
	if err != nil {
		return &store.StorageError{Op: "messages.append", Err: err}
	}
	return nil
}

func (s *PGConversationStore) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 8
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_results, model,
		 input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, attachments,
		 pinned, reported, reply_to, forward_of, trace_id, created_at
		 FROM (SELECT * FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2) t
		 ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "messages.history", Err: err}
	}
	defer rows.Close()

	var result []*store.Message
	for rows.Next() {
		m := &store.Message{}
		var content, model *string
		var toolCalls, toolResults, attachments []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &toolCalls, &toolResults,
			&model, &m.Usage.InputTokens, &m.Usage.OutputTokens, &m.Usage.CacheReadTokens,
			&m.Usage.CacheWriteTokens, &attachments, &m.Pinned, &m.Reported, &m.ReplyTo,
			&m.ForwardOf, &m.TraceID, &m.CreatedAt); err != nil {
			continue
		}
		m.Content = derefStr(content)
		m.Model = derefStr(model)
		_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		_ = json.Unmarshal(toolResults, &m.ToolResults)
		_ = json.Unmarshal(attachments, &m.Attachments)
		result = append(result, m)
	}
	return result, nil
}

func (s *PGConversationStore) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content=$1 WHERE id=$2`, content, id)
	if err != nil {
		return &store.StorageError{Op: "messages.update", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
