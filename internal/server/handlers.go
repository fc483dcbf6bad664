package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cmdcenter/memorylane/internal/engine"
	"github.com/cmdcenter/memorylane/internal/importer"
	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// Handlers bundles the HTTP endpoints over the extraction and retrieval
// engines. All endpoints speak JSON.
type Handlers struct {
	retriever *engine.Retriever
	extractor *engine.Extractor
	resolver  *engine.EntityResolver
	importer  *importer.TranscriptImporter
	memories  storage.MemoryStore
	entities  storage.EntityStore
	hub       *EventHub
}

// NewHandlers creates the endpoint set. hub may be nil; events are then
// dropped.
func NewHandlers(
	retriever *engine.Retriever,
	extractor *engine.Extractor,
	resolver *engine.EntityResolver,
	imp *importer.TranscriptImporter,
	memories storage.MemoryStore,
	entities storage.EntityStore,
	hub *EventHub,
) *Handlers {
	return &Handlers{
		retriever: retriever,
		extractor: extractor,
		resolver:  resolver,
		importer:  imp,
		memories:  memories,
		entities:  entities,
		hub:       hub,
	}
}

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type retrieveRequest struct {
	Query string   `json:"query"`
	Hints []string `json:"hints,omitempty"`
}

// Retrieve handles POST /api/retrieve: ranked recall for a query.
func (h *Handlers) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required", nil)
		return
	}

	result, err := h.retriever.Retrieve(r.Context(), req.Query, req.Hints)
	if err != nil {
		if engine.IsKind(err, engine.KindTimeout) {
			respondError(w, http.StatusGatewayTimeout, "retrieval timed out", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "retrieval failed", err)
		return
	}

	if result.Degraded {
		h.broadcast(Event{Type: EventRetrievalDegraded, Payload: map[string]interface{}{
			"query": req.Query,
		}})
	}
	respondJSON(w, http.StatusOK, result)
}

type feedbackRequest struct {
	MemoryID  string `json:"memory_id"`
	Polarity  string `json:"polarity"`
	SessionID string `json:"session_id,omitempty"`
	QueryText string `json:"query_text,omitempty"`
}

// Feedback handles POST /api/feedback: records a usefulness signal for a
// previously recalled memory.
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.MemoryID == "" {
		respondError(w, http.StatusBadRequest, "memory_id is required", nil)
		return
	}
	polarity := types.FeedbackPolarity(req.Polarity)
	if !polarity.Valid() {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("polarity must be %q or %q", types.FeedbackPositive, types.FeedbackNegative), nil)
		return
	}

	err := h.retriever.SubmitFeedback(r.Context(), req.MemoryID, polarity, req.SessionID, req.QueryText)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to record feedback", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type extractRequest struct {
	SessionKey string        `json:"session_key"`
	Turns      []engine.Turn `json:"turns"`
}

// Extract handles POST /api/extract: runs memory extraction over a
// conversation session and broadcasts per-chunk progress events.
func (h *Handlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.SessionKey == "" {
		respondError(w, http.StatusBadRequest, "session_key is required", nil)
		return
	}
	if len(req.Turns) == 0 {
		respondError(w, http.StatusBadRequest, "turns must not be empty", nil)
		return
	}

	progress := func(chunkIndex, chunkCount int, result *engine.ChunkResult) {
		h.broadcast(Event{Type: EventExtractionProgress, Payload: map[string]interface{}{
			"session_key": req.SessionKey,
			"chunk":       chunkIndex + 1,
			"chunks":      chunkCount,
			"created":     len(result.Created),
			"merged":      len(result.Merged),
		}})
	}

	summary, err := h.extractor.ExtractSession(r.Context(), req.SessionKey, req.Turns, progress)
	if err != nil {
		if engine.IsKind(err, engine.KindTimeout) {
			respondError(w, http.StatusGatewayTimeout, "extraction timed out", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "extraction failed", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

type importRequest struct {
	Path string `json:"path"`
}

// StartImport handles POST /api/import: kicks off an async directory import
// and returns the job id.
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required", nil)
		return
	}

	// The job outlives the request, so it runs on the server's lifetime
	// context, not the request context.
	jobID, err := h.importer.StartImport(h.lifetimeContext(r), req.Path)
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot start import", err)
		return
	}

	if done := h.importer.JobDone(jobID); done != nil {
		go func() {
			<-done
			h.broadcast(Event{Type: EventImportFinished, Payload: h.importer.GetJobResult(jobID)})
		}()
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "running"})
}

// ImportStatus handles GET /api/import/status/{job_id}.
func (h *Handlers) ImportStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "job_id is required", nil)
		return
	}
	progress, ok := h.importer.GetJobProgress(jobID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown job", nil)
		return
	}
	response := map[string]interface{}{"progress": progress}
	if result := h.importer.GetJobResult(jobID); result != nil {
		response["result"] = result
	}
	respondJSON(w, http.StatusOK, response)
}

// ListMemories handles GET /api/memories with optional type, category, q,
// since, until and limit filters.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.MemoryFilter{
		Category:     q.Get("category"),
		TextContains: q.Get("q"),
		Limit:        parseIntParam(q.Get("limit"), 0),
	}
	if typeParam := q.Get("type"); typeParam != "" {
		memType := types.MemoryType(typeParam)
		if !memType.Valid() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown memory type %q", typeParam), nil)
			return
		}
		filter.Types = []types.MemoryType{memType}
	}
	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid since timestamp", err)
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid until timestamp", err)
		return
	}

	memories, err := h.memories.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list memories", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

// ListEntities handles GET /api/entities.
func (h *Handlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.entities.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	})
}

type mergeEntitiesRequest struct {
	KeepID  string `json:"keep_id"`
	MergeID string `json:"merge_id"`
}

// MergeEntities handles POST /api/entities/merge: folds one entity into
// another, repointing its memory links.
func (h *Handlers) MergeEntities(w http.ResponseWriter, r *http.Request) {
	var req mergeEntitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.KeepID == "" || req.MergeID == "" {
		respondError(w, http.StatusBadRequest, "keep_id and merge_id are required", nil)
		return
	}

	merged, err := h.resolver.Merge(r.Context(), req.KeepID, req.MergeID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "entity not found", err)
		case engine.IsKind(err, engine.KindTypeMismatch):
			respondError(w, http.StatusConflict, "entities have different types", err)
		default:
			respondError(w, http.StatusInternalServerError, "merge failed", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, merged)
}

type cleanupRequest struct {
	OlderThanDays   int     `json:"older_than_days,omitempty"`
	MaxConfidence   float64 `json:"max_confidence,omitempty"`
	IncludeRecalled bool    `json:"include_recalled,omitempty"`
}

// Cleanup handles POST /api/maintenance/cleanup: deletes old low-confidence
// memories.
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse request body", err)
			return
		}
	}
	opts := engine.CleanupOptions{
		OlderThan:       time.Duration(req.OlderThanDays) * 24 * time.Hour,
		MaxConfidence:   req.MaxConfidence,
		IncludeRecalled: req.IncludeRecalled,
	}
	deleted, err := engine.Cleanup(r.Context(), h.memories, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cleanup failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

type backfillRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Backfill handles POST /api/maintenance/backfill: re-embeds memories stored
// without a vector.
func (h *Handlers) Backfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse request body", err)
			return
		}
	}
	embedded, err := h.extractor.BackfillEmbeddings(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "backfill failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"embedded": embedded})
}

func (h *Handlers) broadcast(event Event) {
	if h.hub != nil {
		h.hub.Broadcast(event)
	}
}

// lifetimeContext returns the hub's context when available so background
// jobs survive the originating request, falling back to the request context.
func (h *Handlers) lifetimeContext(r *http.Request) context.Context {
	if h.hub != nil {
		return h.hub.ctx
	}
	return r.Context()
}

func parseIntParam(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent, so only log.
		log.Printf("Server: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	resp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		resp.Details = map[string]interface{}{"error": err.Error()}
	}
	respondJSON(w, statusCode, resp)
}
