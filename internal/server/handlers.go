package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/answer"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/store"
)

// historyWindow is the number of prior turns loaded for a chat request.
// Older turns are dropped; token budgeting inside the engine trims further.
const historyWindow = 20

// handleBuilderTurn handles POST /api/builder/turn. It advances a profile
// interview by one turn and, on completion, persists the agent and assigns
// it an id.
func (s *Server) handleBuilderTurn(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req builderTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Profile == nil {
		req.Profile = schema.NewExtractionRecord()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	turn, err := s.deps.Builder.Step(ctx, req.Profile, req.History, req.Message)
	if err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		log.Error("builder turn failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "builder turn failed")
		return
	}

	resp := builderTurnResponse{
		AgentID:  req.AgentID,
		Profile:  turn.Record,
		Reply:    turn.Reply,
		History:  turn.Transcript,
		Complete: turn.Complete,
	}

	if turn.Complete && s.deps.DB != nil {
		if resp.AgentID == "" {
			resp.AgentID = uuid.NewString()
		}
		if err := s.deps.DB.SaveAgent(ctx, resp.AgentID, turn.Record); err != nil {
			log.Error("agent save failed",
				slog.String("agent_id", resp.AgentID),
				slog.Any("error", err),
			)
			writeError(w, http.StatusInternalServerError, "agent save failed")
			return
		}
		log.Info("agent created", slog.String("agent_id", resp.AgentID))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleIngest handles POST /api/agents/{id}/ingest. The body is an
// ingestion source; the kind is inferred when omitted.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	agentID := r.PathValue("id")
	if err := schema.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var src ingestion.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if src.Kind == "" {
		switch {
		case src.URL != "":
			src.Kind = ingestion.KindURL
		case len(src.FAQs) > 0:
			src.Kind = ingestion.KindFAQ
		default:
			src.Kind = ingestion.KindDocument
		}
	}

	result, err := s.deps.Ingestor.Ingest(r.Context(), agentID, src)
	if err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		log.Error("ingestion failed",
			slog.String("agent_id", agentID),
			slog.Any("error", err),
		)
		writeError(w, http.StatusBadGateway, "ingestion failed")
		return
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.UpsertSource(r.Context(), agentID, result.SourceID, string(src.Kind), src.Name, result.ChunkCount); err != nil {
			// The chunks are already stored; a stale ledger row is not worth a 5xx.
			log.Warn("source ledger update failed",
				slog.String("agent_id", agentID),
				slog.String("source_id", result.SourceID),
				slog.Any("error", err),
			)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAgentChat handles POST /api/agents/{id}/chat. It loads the agent
// profile and recent session history, answers the turn, and persists both
// sides of the exchange.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	agentID := r.PathValue("id")
	if err := schema.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req agentChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := schema.ValidateMessage(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	profile := schema.NewExtractionRecord()
	var history schema.Transcript
	if s.deps.DB != nil {
		var err error
		profile, err = s.deps.DB.GetAgent(ctx, agentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "agent not found")
				return
			}
			log.Error("agent load failed", slog.String("agent_id", agentID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "agent load failed")
			return
		}
		if req.SessionID != "" {
			history, err = s.deps.DB.RecentTurns(ctx, agentID, req.SessionID, historyWindow)
			if err != nil {
				log.Warn("history load failed",
					slog.String("agent_id", agentID),
					slog.String("session_id", req.SessionID),
					slog.Any("error", err),
				)
			}
		}
	}

	s.metrics.convActive.Inc()
	start := time.Now()

	resp, err := s.deps.Answerer.Chat(ctx, answer.Request{
		AgentID:   agentID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Profile:   profile,
		History:   history,
	})

	s.metrics.convActive.Dec()

	if err != nil {
		s.observeConversation("error", start)
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
			return
		}
		log.Error("chat turn failed", slog.String("agent_id", agentID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "chat turn failed")
		return
	}

	outcome := "ok"
	if !resp.Grounded {
		outcome = "fallback"
	}
	s.observeConversation(outcome, start)

	if s.deps.DB != nil && req.SessionID != "" {
		persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelPersist()
		if err := s.deps.DB.AppendTurn(persistCtx, agentID, req.SessionID, schema.RoleUser, req.Message); err != nil {
			log.Warn("turn persist failed", slog.Any("error", err))
		}
		if err := s.deps.DB.AppendTurn(persistCtx, agentID, req.SessionID, schema.RoleAssistant, resp.Reply); err != nil {
			log.Warn("turn persist failed", slog.Any("error", err))
		}
		if err := s.deps.DB.IncrementStat(persistCtx, agentID, "conversations"); err != nil {
			log.Warn("stat update failed", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleKnowledgeList handles GET /api/agents/{id}/knowledge.
func (s *Server) handleKnowledgeList(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	agentID := r.PathValue("id")
	if err := schema.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}

	count, err := s.deps.Knowledge.Count(r.Context(), agentID)
	if err != nil {
		log.Error("knowledge count failed", slog.String("agent_id", agentID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "knowledge store unavailable")
		return
	}

	resp := knowledgeResponse{AgentID: agentID, ChunkCount: count, Sources: []store.SourceRecord{}}
	if s.deps.DB != nil {
		sources, err := s.deps.DB.Sources(r.Context(), agentID)
		if err != nil {
			log.Warn("source ledger read failed", slog.String("agent_id", agentID), slog.Any("error", err))
		} else if sources != nil {
			resp.Sources = sources
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleKnowledgeDelete handles DELETE /api/agents/{id}/knowledge. With a
// ?source= query parameter only that source's chunks are removed; without it
// the agent's entire knowledge base is cleared.
func (s *Server) handleKnowledgeDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	agentID := r.PathValue("id")
	if err := schema.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store not configured")
		return
	}

	sourceID := r.URL.Query().Get("source")

	if sourceID != "" {
		if err := s.deps.Knowledge.DeleteSource(r.Context(), agentID, sourceID); err != nil {
			log.Error("source delete failed",
				slog.String("agent_id", agentID),
				slog.String("source_id", sourceID),
				slog.Any("error", err),
			)
			writeError(w, http.StatusBadGateway, "knowledge delete failed")
			return
		}
		if s.deps.DB != nil {
			if err := s.deps.DB.DeleteSource(r.Context(), agentID, sourceID); err != nil {
				log.Warn("source ledger delete failed", slog.Any("error", err))
			}
		}
		writeJSON(w, http.StatusOK, deleteResponse{AgentID: agentID, SourceID: sourceID, Deleted: true})
		return
	}

	if err := s.deps.Knowledge.DeleteAgent(r.Context(), agentID); err != nil {
		log.Error("knowledge delete failed", slog.String("agent_id", agentID), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "knowledge delete failed")
		return
	}
	if s.deps.DB != nil {
		sources, err := s.deps.DB.Sources(r.Context(), agentID)
		if err != nil {
			log.Warn("source ledger read failed", slog.Any("error", err))
		}
		for _, src := range sources {
			if err := s.deps.DB.DeleteSource(r.Context(), agentID, src.SourceID); err != nil {
				log.Warn("source ledger delete failed", slog.String("source_id", src.SourceID), slog.Any("error", err))
			}
		}
	}

	writeJSON(w, http.StatusOK, deleteResponse{AgentID: agentID, Deleted: true})
}

// observeConversation records one completed chat turn in the conversation
// metrics.
func (s *Server) observeConversation(outcome string, start time.Time) {
	s.metrics.convRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.convDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
