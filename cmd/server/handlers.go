package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"knowpack"
	"knowpack/pack"
	"knowpack/sanitize"
)

type handler struct {
	agent    *knowpack.Agent
	registry *pack.Registry
	llmReady bool
}

func newHandler(agent *knowpack.Agent, registry *pack.Registry, llmReady bool) *handler {
	return &handler{agent: agent, registry: registry, llmReady: llmReady}
}

type queryRequest struct {
	Question    string `json:"question"`
	MaxResults  int    `json:"max_results,omitempty"`
	UseGraphRAG bool   `json:"use_graph_rag,omitempty"`
}

func (h *handler) queryOptions(req queryRequest) []knowpack.QueryOption {
	var opts []knowpack.QueryOption
	if req.MaxResults > 0 && req.MaxResults <= 100 {
		opts = append(opts, knowpack.WithMaxResults(req.MaxResults))
	}
	if req.UseGraphRAG {
		opts = append(opts, knowpack.WithGraphRAG())
	}
	return opts
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !h.llmReady {
		writeError(w, http.StatusServiceUnavailable, "llm provider not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := h.agent.Query(ctx, req.Question, h.queryOptions(req)...)
	if errors.Is(err, knowpack.ErrNoResults) {
		writeError(w, http.StatusNotFound, "no results found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "error", sanitize.RedactError(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /chat
// Streams the answer as server-sent events: a "sources" event right
// after retrieval, "token" events carrying answer text, and a "done"
// event with the query type and timing. Failures emit one "error"
// event; the HTTP status is already 200 by then.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if !h.llmReady {
		writeError(w, http.StatusServiceUnavailable, "llm provider not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result, err := h.agent.Query(ctx, req.Question, h.queryOptions(req)...)
	if err != nil {
		msg := "query failed"
		if errors.Is(err, knowpack.ErrNoResults) {
			msg = "no results found"
		} else {
			slog.Error("chat error", "error", sanitize.RedactError(err))
		}
		sendEvent(w, flusher, "error", map[string]string{"error": msg})
		return
	}

	sendEvent(w, flusher, "sources", result.Sources)

	// The synthesized answer arrives whole; stream it out in word
	// chunks so clients render progressively.
	for _, chunk := range tokenChunks(result.Answer, 8) {
		if ctx.Err() != nil {
			return
		}
		sendEvent(w, flusher, "token", map[string]string{"text": chunk})
	}

	sendEvent(w, flusher, "done", map[string]any{
		"query_type":        result.QueryType,
		"execution_time_ms": result.ExecutionTimeMs,
	})
}

// tokenChunks splits text into chunks of up to n words, keeping the
// original spacing boundary as a trailing space.
func tokenChunks(text string, n int) []string {
	words := strings.Fields(text)
	var chunks []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// GET /packs
func (h *handler) handleListPacks(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Refresh(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list packs")
		slog.Error("registry refresh error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packs": h.registry.ListPacks(),
	})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.agent.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		slog.Error("stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
