package supervisor

import (
	"net/http"

	"github.com/loomkernel/loom/internal/agentloop"
)

type chatRequest struct {
	Message  string `json:"message"`
	Provider string `json:"provider"`
	Reset    bool   `json:"reset"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	decodeJSON(r, &req)

	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent loop not configured"})
		return
	}

	result, err := s.runner.Chat(r.Context(), req.Message, req.Provider, req.Reset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":   result.Response,
		"provider":   result.Provider,
		"tool_count": result.ToolCount,
	})
}

type digestRequest struct {
	Provider    string  `json:"provider"`
	ReplayRatio float64 `json:"replay_ratio"`
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	decodeJSON(r, &req)

	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent loop not configured"})
		return
	}

	result, err := s.runner.Digest(r.Context(), req.Provider, req.ReplayRatio)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           result.Status,
		"chunks_processed": result.ChunksProcessed,
		"replays":          result.Replays,
		"provider":         result.Provider,
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent loop not configured"})
		return
	}
	msgs, err := s.store().LoadHistory()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent loop not configured"})
		return
	}
	entries, err := s.store().LoadLog()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleLearnings(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "agent loop not configured"})
		return
	}
	text, err := s.store().LoadLearnings()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"learnings": text, "exists": text != ""})
}

// store exposes the Runner's persistence layer for the read-only history/
// log/learnings endpoints, which do not need the full chat/digest pipeline.
func (s *Server) store() *agentloop.Store { return s.runner.Store() }
