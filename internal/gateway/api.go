package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/agent"
	"github.com/itellico/joi-gateway/internal/store"
)

// writeJSON marshals v and writes it with the given status code, logging
// (but not retrying) marshal failures the same way the WS push path does.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: encode response failed", "error", err)
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleVoiceChat runs a turn and streams the assistant's reply as
// text/event-stream deltas, for voice clients that can't hold a WebSocket
// open across a phone call's audio pipeline.
func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		ConversationID string `json:"conversationId"`
		AgentID        string `json:"agentId"`
		Message        string `json:"message"`
		Model          string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request body")
		return
	}
	if req.Message == "" {
		writeErr(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var convID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad conversationId")
			return
		}
		convID = &id
	}

	if req.ConversationID != "" {
		defer s.turns.lock(req.ConversationID)()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	turnReq := agent.TurnRequest{
		ConversationID: convID,
		AgentID:        req.AgentID,
		UserMessage:    req.Message,
		Model:          req.Model,
		Voice:          true,
		Callbacks: agent.Callbacks{
			OnStream: func(delta string) {
				fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]string{"delta": delta}))
				flusher.Flush()
			},
		},
	}

	result, err := s.runtime.RunTurn(r.Context(), turnReq)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(map[string]string{"error": err.Error()}))
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", mustJSON(map[string]interface{}{
		"content": result.Content,
		"model":   result.Model,
	}))
	flusher.Flush()
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// handleAPIReview exposes the human-in-the-loop review queue: GET lists
// items (only those with ?status= when given, otherwise every status with
// pending first), POST resolves one. Backed by the same review.Service the
// WS review.resolve method uses.
func (s *Server) handleAPIReview(w http.ResponseWriter, r *http.Request) {
	if s.review == nil || !s.review.Enabled() {
		writeErr(w, http.StatusServiceUnavailable, "review store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.review.List(r.Context(), store.ReviewFilters{Status: r.URL.Query().Get("status"), Limit: 50})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var body struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			Resolution string `json:"resolution"`
			ResolvedBy string `json:"resolvedBy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request body")
			return
		}
		id, err := uuid.Parse(body.ID)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad id")
			return
		}
		item, err := s.review.Resolve(r.Context(), id, body.Status, body.Resolution, body.ResolvedBy)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// handleAPIMemory exposes area-scoped memory search and writes.
func (s *Server) handleAPIMemory(w http.ResponseWriter, r *http.Request) {
	if s.memorySvc == nil || !s.memorySvc.Enabled() {
		writeErr(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		results, err := s.memorySvc.Search(r.Context(), store.MemorySearchOpts{
			Query: r.URL.Query().Get("q"),
			Limit: 20,
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, results)
	case http.MethodPost:
		var m store.Memory
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request body")
			return
		}
		written, err := s.memorySvc.Write(r.Context(), &m)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, written)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// handleAPIKnowledge exposes the knowledge base's query/create surface.
func (s *Server) handleAPIKnowledge(w http.ResponseWriter, r *http.Request) {
	if s.knowledgeSvc == nil || !s.knowledgeSvc.Enabled() {
		writeErr(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		objs, total, err := s.knowledgeSvc.Query(r.Context(), store.KnowledgeQueryOpts{Limit: 50})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objs, "total": total})
	case http.MethodPost:
		var body struct {
			CollectionID string          `json:"collectionId"`
			Title        string          `json:"title"`
			Data         json.RawMessage `json:"data"`
			Tags         []string        `json:"tags"`
			CreatedBy    string          `json:"createdBy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request body")
			return
		}
		collID, err := uuid.Parse(body.CollectionID)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad collectionId")
			return
		}
		obj, err := s.knowledgeSvc.CreateObject(r.Context(), collID, body.Title, body.Data, body.Tags, body.CreatedBy)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, obj)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// handleAPICron exposes job listing (GET) and ad-hoc creation (POST). It
// has no immediate-run trigger; jobs run only when the scheduler finds them due.
func (s *Server) handleAPICron(w http.ResponseWriter, r *http.Request) {
	if s.stores.Cron == nil {
		writeErr(w, http.StatusServiceUnavailable, "cron store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.stores.Cron.List(r.Context(), r.URL.Query().Get("agentId"))
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		var job store.CronJob
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request body")
			return
		}
		created, err := s.stores.Cron.Create(r.Context(), &job)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}

// handleAPIAgents exposes agent record listing and upsert.
func (s *Server) handleAPIAgents(w http.ResponseWriter, r *http.Request) {
	if s.stores.Agents == nil {
		writeErr(w, http.StatusServiceUnavailable, "agent store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		recs, err := s.stores.Agents.List(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, recs)
	case http.MethodPost:
		var rec store.AgentRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request body")
			return
		}
		if err := s.stores.Agents.Upsert(r.Context(), &rec); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "GET or POST only")
	}
}
