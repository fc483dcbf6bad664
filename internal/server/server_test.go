package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmdcenter/memorylane/internal/config"
	"github.com/cmdcenter/memorylane/internal/embedding"
	"github.com/cmdcenter/memorylane/internal/engine"
	"github.com/cmdcenter/memorylane/internal/importer"
	"github.com/cmdcenter/memorylane/internal/storage"
	"github.com/cmdcenter/memorylane/internal/storage/sqlite"
	"github.com/cmdcenter/memorylane/pkg/types"
)

// cannedGenerator returns one fixed model response for every completion call.
type cannedGenerator struct {
	response string
}

func (g *cannedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	return g.response, nil
}

func (g *cannedGenerator) GetModel() string { return "canned" }

// unitEmbedder returns the same unit vector for every text, or fails when
// down is set.
type unitEmbedder struct {
	down bool
}

func (e *unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.down {
		return nil, fmt.Errorf("embedder offline")
	}
	return []float32{1, 0, 0}, nil
}

func (e *unitEmbedder) GetModel() string { return "unit" }

const decisionResponse = `[
  {
    "type": "decision",
    "title": "Postgres chosen for analytics",
    "content": "The team will always use Postgres for the analytics pipeline.",
    "category": "infrastructure",
    "relatedEntities": ["project:Analytics Pipeline"],
    "confidenceScore": 85,
    "sourceExcerpt": "we will always use Postgres for analytics"
  }
]`

func newTestServer(t *testing.T, embedderDown bool) (string, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewService(&unitEmbedder{down: embedderDown})
	resolver := engine.NewEntityResolver(store.Entities())
	extractor, err := engine.NewExtractor(store.Memories(), resolver,
		&cannedGenerator{response: decisionResponse}, embedder, engine.ExtractorConfig{ChunkSize: 2})
	if err != nil {
		t.Fatalf("build extractor: %v", err)
	}
	retriever := engine.NewRetriever(store.Memories(), resolver, embedder, engine.RetrievalConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.LoadConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.RateLimit = 1000
	cfg.Server.RateBurst = 1000

	addr, _, err := Start(ctx, cfg, Deps{
		Retriever: retriever,
		Extractor: extractor,
		Resolver:  resolver,
		Importer:  importer.NewTranscriptImporter(extractor),
		Memories:  store.Memories(),
		Entities:  store.Entities(),
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	return "http://" + addr, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func extractTestSession(t *testing.T, base, sessionKey string) engine.SessionSummary {
	t.Helper()
	resp := postJSON(t, base+"/api/extract", map[string]interface{}{
		"session_key": sessionKey,
		"turns": []engine.Turn{
			{Role: engine.RoleUser, Content: "Which database should the analytics pipeline use?"},
			{Role: engine.RoleAssistant, Content: "We will always use Postgres for analytics."},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("extract status = %d", resp.StatusCode)
	}
	var summary engine.SessionSummary
	decodeBody(t, resp, &summary)
	return summary
}

func TestExtractEndpoint_CreatesMemories(t *testing.T) {
	base, store := newTestServer(t, false)

	summary := extractTestSession(t, base, "session-1")
	if summary.Created != 1 {
		t.Fatalf("Created = %d, want 1", summary.Created)
	}
	if summary.ChunksProcessed != 1 {
		t.Errorf("ChunksProcessed = %d, want 1", summary.ChunksProcessed)
	}

	memories, err := store.Memories().List(context.Background(), storage.MemoryFilter{})
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("stored memories = %d, want 1", len(memories))
	}
	if memories[0].Type != types.TypeDecision {
		t.Errorf("stored type = %q, want %q", memories[0].Type, types.TypeDecision)
	}
}

func TestRetrieveEndpoint_RanksStoredMemories(t *testing.T) {
	base, _ := newTestServer(t, false)
	extractTestSession(t, base, "session-1")

	resp := postJSON(t, base+"/api/retrieve", map[string]interface{}{
		"query": "what database does the analytics pipeline use",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status = %d", resp.StatusCode)
	}
	var result engine.RetrievalResult
	decodeBody(t, resp, &result)

	if result.Degraded {
		t.Error("Degraded = true with a working embedder")
	}
	if len(result.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(result.Results))
	}
	top := result.Results[0]
	if top.Memory.Type != types.TypeDecision {
		t.Errorf("top type = %q, want decision", top.Memory.Type)
	}
	// Identical unit vectors, so similarity 1.0 plus the high-tier boost.
	if top.FinalScore < 1.14 {
		t.Errorf("FinalScore = %.3f, want 1.15", top.FinalScore)
	}
}

func TestRetrieveEndpoint_DegradedWithoutEmbeddings(t *testing.T) {
	base, _ := newTestServer(t, true)

	resp := postJSON(t, base+"/api/retrieve", map[string]interface{}{"query": "anything"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve status = %d", resp.StatusCode)
	}
	var result engine.RetrievalResult
	decodeBody(t, resp, &result)
	if !result.Degraded {
		t.Error("Degraded = false, want true when embedder is down")
	}
}

func TestRetrieveEndpoint_RequiresQuery(t *testing.T) {
	base, _ := newTestServer(t, false)

	resp := postJSON(t, base+"/api/retrieve", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestFeedbackEndpoint(t *testing.T) {
	base, store := newTestServer(t, false)
	extractTestSession(t, base, "session-1")

	memories, err := store.Memories().List(context.Background(), storage.MemoryFilter{})
	if err != nil || len(memories) == 0 {
		t.Fatalf("list memories: %v (%d)", err, len(memories))
	}
	id := memories[0].ID

	resp := postJSON(t, base+"/api/feedback", map[string]string{
		"memory_id": id,
		"polarity":  "positive",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feedback status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	updated, err := store.Memories().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if updated.PositiveFeedback != 1 {
		t.Errorf("PositiveFeedback = %d, want 1", updated.PositiveFeedback)
	}
}

func TestFeedbackEndpoint_Validation(t *testing.T) {
	base, _ := newTestServer(t, false)

	resp := postJSON(t, base+"/api/feedback", map[string]string{
		"memory_id": "mem", "polarity": "enthusiastic",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad polarity status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, base+"/api/feedback", map[string]string{
		"memory_id": "no-such-memory", "polarity": "negative",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown memory status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestImportEndpoints(t *testing.T) {
	base, _ := newTestServer(t, false)

	dir := t.TempDir()
	transcript := "User: Which database should we use?\nAssistant: We will always use Postgres for analytics.\n"
	if err := os.WriteFile(filepath.Join(dir, "session.md"), []byte(transcript), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	resp := postJSON(t, base+"/api/import", map[string]string{"path": dir})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("import status = %d, want 202", resp.StatusCode)
	}
	var started map[string]string
	decodeBody(t, resp, &started)
	jobID := started["job_id"]
	if jobID == "" {
		t.Fatal("missing job_id in import response")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		statusResp, err := http.Get(base + "/api/import/status/" + jobID)
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		var status struct {
			Progress importer.ImportProgress `json:"progress"`
			Result   *importer.ImportResult  `json:"result"`
		}
		decodeBody(t, statusResp, &status)
		if status.Progress.Status == "complete" {
			if status.Result == nil || status.Result.FilesProcessed != 1 {
				t.Fatalf("result = %+v, want 1 file processed", status.Result)
			}
			break
		}
		if status.Progress.Status == "failed" {
			t.Fatalf("import failed: %s", status.Progress.Message)
		}
		if time.Now().After(deadline) {
			t.Fatal("import did not finish in time")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(base + "/api/import/status/no-such-job")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListMemoriesEndpoint_Filters(t *testing.T) {
	base, _ := newTestServer(t, false)
	extractTestSession(t, base, "session-1")

	resp, err := http.Get(base + "/api/memories?type=decision")
	if err != nil {
		t.Fatalf("GET memories: %v", err)
	}
	var listing struct {
		Memories []types.Memory `json:"memories"`
		Count    int            `json:"count"`
	}
	decodeBody(t, resp, &listing)
	if listing.Count != 1 {
		t.Errorf("decision count = %d, want 1", listing.Count)
	}

	resp, err = http.Get(base + "/api/memories?type=correction")
	if err != nil {
		t.Fatalf("GET memories: %v", err)
	}
	decodeBody(t, resp, &listing)
	if listing.Count != 0 {
		t.Errorf("correction count = %d, want 0", listing.Count)
	}

	resp, err = http.Get(base + "/api/memories?type=banana")
	if err != nil {
		t.Fatalf("GET memories: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEntityEndpoints(t *testing.T) {
	base, store := newTestServer(t, false)
	extractTestSession(t, base, "session-1")

	resp, err := http.Get(base + "/api/entities")
	if err != nil {
		t.Fatalf("GET entities: %v", err)
	}
	var listing struct {
		Entities []types.Entity `json:"entities"`
		Count    int            `json:"count"`
	}
	decodeBody(t, resp, &listing)
	if listing.Count != 1 {
		t.Fatalf("entity count = %d, want 1", listing.Count)
	}
	keep := listing.Entities[0]

	other := &types.Entity{
		ID:            "dup-entity",
		Slug:          "analytics-pipe",
		Type:          keep.Type,
		CanonicalName: "Analytics Pipe",
	}
	if err := store.Entities().Insert(context.Background(), other); err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	resp = postJSON(t, base+"/api/entities/merge", map[string]string{
		"keep_id": keep.ID, "merge_id": other.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("merge status = %d", resp.StatusCode)
	}
	var merged types.Entity
	decodeBody(t, resp, &merged)
	if !merged.HasAlias("Analytics Pipe") {
		t.Errorf("merged entity lost alias: %v", merged.Aliases)
	}

	resp = postJSON(t, base+"/api/entities/merge", map[string]string{
		"keep_id": keep.ID, "merge_id": "no-such-entity",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("merge missing status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMaintenanceEndpoints(t *testing.T) {
	base, _ := newTestServer(t, false)

	resp := postJSON(t, base+"/api/maintenance/cleanup", map[string]interface{}{
		"older_than_days": 30,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status = %d", resp.StatusCode)
	}
	var cleaned map[string]int
	decodeBody(t, resp, &cleaned)
	if cleaned["deleted"] != 0 {
		t.Errorf("deleted = %d, want 0 on empty store", cleaned["deleted"])
	}

	resp = postJSON(t, base+"/api/maintenance/backfill", map[string]interface{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backfill status = %d", resp.StatusCode)
	}
	var backfilled map[string]int
	decodeBody(t, resp, &backfilled)
}

func TestHealthEndpoint(t *testing.T) {
	base, _ := newTestServer(t, false)
	resp, err := http.Get(base + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("burst requests rejected: %v", statuses)
	}
	if statuses[3] != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %v", statuses)
	}
}

func TestRateLimitMiddleware_ZeroDisablesLimiting(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d rejected with %d, want unlimited", i, rec.Code)
		}
	}
}
