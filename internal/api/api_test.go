package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/engine"
	"github.com/opensource-finance/shrike/internal/graphstore"
	"github.com/opensource-finance/shrike/internal/notify"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/triage"
	"github.com/opensource-finance/shrike/internal/worker"
)

// cycleCSV plants a 3-account cycle. Every loop account trips the cycle
// detector and, having exactly 2 transactions, the shell-chain detector as
// well: score 60 each, one ring, three builtin ring-member alerts.
const cycleCSV = `transaction_id,sender_id,receiver_id,amount,timestamp
TX_1,ACC_A,ACC_B,5000,2024-01-15 10:00:00
TX_2,ACC_B,ACC_C,4800,2024-01-15 11:00:00
TX_3,ACC_C,ACC_A,4600,2024-01-15 12:00:00
`

type testEnv struct {
	server *Server
	bus    domain.EventBus
	hub    *Hub
}

// createTestServer wires a full server against sqlite, an LRU cache, and an
// in-process channel bus.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	runCache := cache.NewLRUCache(100)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	policies, err := triage.NewEngine()
	if err != nil {
		t.Fatalf("failed to create triage engine: %v", err)
	}
	if err := policies.LoadPolicies(triage.Builtin()); err != nil {
		t.Fatalf("failed to load builtin policies: %v", err)
	}

	exporter := graphstore.NewExporter(graphstore.NewMemoryClient())
	processor := worker.NewProcessor(engine.New(engine.DefaultOptions()), policies, repo, runCache, eventBus, exporter, notify.Noop{})

	hub := NewHub(eventBus)
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := NewServer(cfg, repo, runCache, eventBus, processor, policies, hub, "test-v1")
	return &testEnv{server: server, bus: eventBus, hub: hub}
}

// multipartLedger builds a multipart body with one file field.
func multipartLedger(t *testing.T, filename, contents string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write([]byte(contents)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// analyzeLedger POSTs a CSV ledger and returns the completed run.
func analyzeLedger(t *testing.T, env *testEnv, tenantID, csv string) *domain.AnalysisRun {
	t.Helper()

	body, contentType := multipartLedger(t, "ledger.csv", csv)
	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-ID", tenantID)

	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("analyze returned %d: %s", rr.Code, rr.Body.String())
	}

	var run domain.AnalysisRun
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("failed to parse run: %v", err)
	}
	return &run
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("MultipartCSV", func(t *testing.T) {
		run := analyzeLedger(t, env, "tenant-001", cycleCSV)

		if run.ID == "" {
			t.Error("expected run_id in response")
		}
		if run.ReportHash == "" {
			t.Error("expected report_hash in response")
		}
		if run.Result == nil {
			t.Fatal("expected result in response")
		}
		if run.Result.Summary.SuspiciousAccountsFlagged != 3 {
			t.Errorf("flagged = %d, want 3", run.Result.Summary.SuspiciousAccountsFlagged)
		}
		if run.Result.Summary.FraudRingsDetected != 1 {
			t.Errorf("rings = %d, want 1", run.Result.Summary.FraudRingsDetected)
		}
		if len(run.Alerts) != 3 {
			t.Errorf("alerts = %d, want 3", len(run.Alerts))
		}
	})

	t.Run("JSONBody", func(t *testing.T) {
		reqBody := domain.LedgerRequest{
			Transactions: []domain.TransactionInput{
				{ID: "TX_1", SenderID: "ACC_A", ReceiverID: "ACC_B", Amount: 5000, Timestamp: "2024-01-15 10:00:00"},
				{ID: "TX_2", SenderID: "ACC_B", ReceiverID: "ACC_C", Amount: 4800, Timestamp: "2024-01-15 11:00:00"},
				{ID: "TX_3", SenderID: "ACC_C", ReceiverID: "ACC_A", Amount: 4600, Timestamp: "2024-01-15 12:00:00"},
			},
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-002")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var run domain.AnalysisRun
		if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if run.Result == nil || run.Result.Summary.SuspiciousAccountsFlagged != 3 {
			t.Errorf("expected 3 flagged accounts, got %+v", run.Result)
		}
	})

	t.Run("IdenticalLedgerHitsCache", func(t *testing.T) {
		first := analyzeLedger(t, env, "tenant-cache", cycleCSV)
		second := analyzeLedger(t, env, "tenant-cache", cycleCSV)

		if first.ID != second.ID {
			t.Errorf("expected cached run %s, got %s", first.ID, second.ID)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		csv := "transaction_id,sender_id,receiver_id,timestamp\nTX_1,A,B,2024-01-15 10:00:00\n"
		body, contentType := multipartLedger(t, "ledger.csv", csv)
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "missing required column") {
			t.Errorf("expected missing column error, got: %s", rr.Body.String())
		}
	})

	t.Run("NonCSVFilename", func(t *testing.T) {
		body, contentType := multipartLedger(t, "ledger.txt", cycleCSV)
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "only CSV files are allowed") {
			t.Errorf("expected file type error, got: %s", rr.Body.String())
		}
	})

	t.Run("EmptyLedger", func(t *testing.T) {
		body, _ := json.Marshal(domain.LedgerRequest{Transactions: []domain.TransactionInput{}})
		req := httptest.NewRequest(http.MethodPost, "/v1/ledger/analyze", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSubmitEndpoint(t *testing.T) {
	env := createTestServer(t)

	received := make(chan *domain.Message, 1)
	_, err := env.bus.Subscribe(context.Background(), "tenant-001", domain.TopicLedgerSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	body, contentType := multipartLedger(t, "ledger.csv", cycleCSV)
	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/submit", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		TxCount int    `json:"tx_count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("expected run_id in response")
	}
	if resp.Status != "accepted" {
		t.Errorf("status = %q, want accepted", resp.Status)
	}
	if resp.TxCount != 3 {
		t.Errorf("tx_count = %d, want 3", resp.TxCount)
	}

	select {
	case msg := <-received:
		var job domain.LedgerJob
		if err := json.Unmarshal(msg.Payload, &job); err != nil {
			t.Fatalf("failed to parse job payload: %v", err)
		}
		if job.RunID != resp.RunID {
			t.Errorf("published run id %s, want %s", job.RunID, resp.RunID)
		}
		if len(job.Transactions) != 3 {
			t.Errorf("published %d transactions, want 3", len(job.Transactions))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ledger job on the bus")
	}
}

func TestRunEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("LatestBeforeAnyAnalysis", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analysis/latest", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	run := analyzeLedger(t, env, "tenant-001", cycleCSV)

	t.Run("LatestAnalysis", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analysis/latest", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var latest domain.AnalysisRun
		if err := json.Unmarshal(rr.Body.Bytes(), &latest); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if latest.ID != run.ID {
			t.Errorf("latest run %s, want %s", latest.ID, run.ID)
		}
		if latest.Result == nil {
			t.Error("expected hydrated result")
		}
	})

	t.Run("GetAnalysisByID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analysis/"+run.ID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var got domain.AnalysisRun
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to parse run: %v", err)
		}
		if got.ReportHash != run.ReportHash {
			t.Errorf("report hash %s, want %s", got.ReportHash, run.ReportHash)
		}
	})

	t.Run("GetAnalysisNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analysis/no-such-run", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analysis/"+run.ID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-other")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Runs  []*domain.AnalysisRun `json:"runs"`
			Count int                   `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || len(resp.Runs) != 1 {
			t.Fatalf("expected 1 run, got %d", resp.Count)
		}
		if resp.Runs[0].ID != run.ID {
			t.Errorf("run id %s, want %s", resp.Runs[0].ID, run.ID)
		}
	})

	t.Run("ListRunsBadLimit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=abc", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRingAndAccountEndpoints(t *testing.T) {
	env := createTestServer(t)
	run := analyzeLedger(t, env, "tenant-001", cycleCSV)

	t.Run("GetRings", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rings", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Rings []domain.FraudRing `json:"rings"`
			Count int                `json:"count"`
			RunID string             `json:"run_id"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || len(resp.Rings) != 1 {
			t.Fatalf("expected 1 ring, got %d", resp.Count)
		}
		if resp.Rings[0].RingID != "RING_001" {
			t.Errorf("ring id %s, want RING_001", resp.Rings[0].RingID)
		}
		if resp.RunID != run.ID {
			t.Errorf("run id %s, want %s", resp.RunID, run.ID)
		}
	})

	t.Run("GetRingByID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rings/RING_001", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var ring domain.FraudRing
		if err := json.Unmarshal(rr.Body.Bytes(), &ring); err != nil {
			t.Fatalf("failed to parse ring: %v", err)
		}
		if len(ring.MemberAccounts) != 3 {
			t.Errorf("members = %d, want 3", len(ring.MemberAccounts))
		}
		if ring.PatternType != "cycle_length_3,shell_chain" {
			t.Errorf("pattern type = %q, want cycle_length_3,shell_chain", ring.PatternType)
		}
	})

	t.Run("RingNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/rings/RING_999", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetAccountDetail", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts/ACC_A", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var detail AccountDetailResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if detail.Account == nil {
			t.Fatal("expected account in response")
		}
		if detail.Account.SuspicionScore != 60 {
			t.Errorf("score = %d, want 60", detail.Account.SuspicionScore)
		}
		if detail.Degree != 2 {
			t.Errorf("degree = %d, want 2", detail.Degree)
		}
		if len(detail.SendsTo) != 1 || detail.SendsTo[0] != "ACC_B" {
			t.Errorf("sends_to = %v, want [ACC_B]", detail.SendsTo)
		}
		if len(detail.ReceivesFrom) != 1 || detail.ReceivesFrom[0] != "ACC_C" {
			t.Errorf("receives_from = %v, want [ACC_C]", detail.ReceivesFrom)
		}
		if detail.RunID != run.ID {
			t.Errorf("run id %s, want %s", detail.RunID, run.ID)
		}
	})

	t.Run("AccountNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts/ACC_UNKNOWN", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ReportHash", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/report/hash", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			ReportHash string `json:"report_hash"`
			RunID      string `json:"run_id"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.ReportHash) != 64 {
			t.Errorf("report hash length = %d, want 64", len(resp.ReportHash))
		}
		if resp.RunID != run.ID {
			t.Errorf("run id %s, want %s", resp.RunID, run.ID)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	env := createTestServer(t)

	listCount := func(t *testing.T) int {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		return resp.Count
	}

	t.Run("ListBuiltins", func(t *testing.T) {
		if got := listCount(t); got != len(triage.Builtin()) {
			t.Errorf("policy count = %d, want %d", got, len(triage.Builtin()))
		}
	})

	t.Run("CreatePolicy", func(t *testing.T) {
		reqBody := CreatePolicyRequest{
			ID:         "custom-high",
			Name:       "High scorer",
			Expression: "score >= 50",
			Severity:   "high",
			Enabled:    true,
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/v1/policies", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		if got := listCount(t); got != len(triage.Builtin())+1 {
			t.Errorf("policy count after create = %d, want %d", got, len(triage.Builtin())+1)
		}
	})

	t.Run("CreatePolicyInvalidExpression", func(t *testing.T) {
		reqBody := CreatePolicyRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "score >>>> bogus",
			Enabled:    true,
		}
		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest(http.MethodPost, "/v1/policies", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreatePolicyMissingFields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/policies", bytes.NewBufferString(`{"id":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("DeletePolicy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/v1/policies/custom-high", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		if got := listCount(t); got != len(triage.Builtin()) {
			t.Errorf("policy count after delete = %d, want %d", got, len(triage.Builtin()))
		}
	})

	t.Run("DeletePolicyNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/v1/policies/never-existed", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestStreamEndpoint(t *testing.T) {
	env := createTestServer(t)

	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()

	t.Run("MissingTenantID", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			conn.Close()
			t.Fatal("expected handshake to fail without tenant header")
		}
		if resp != nil && resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("ReceivesBusEvents", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
		header := http.Header{TenantIDHeader: []string{"tenant-001"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("failed to dial stream: %v", err)
		}
		defer conn.Close()

		// Give the hub a moment to register the client and subscribe
		time.Sleep(50 * time.Millisecond)

		if got := env.hub.ClientCount("tenant-001"); got != 1 {
			t.Errorf("client count = %d, want 1", got)
		}

		payload := []byte(`{"run_id":"run-stream-001"}`)
		if err := env.bus.Publish(context.Background(), "tenant-001", domain.TopicAnalysisCompleted, payload); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read stream event: %v", err)
		}

		var event StreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("failed to parse stream event: %v", err)
		}
		if event.Topic != domain.TopicAnalysisCompleted {
			t.Errorf("topic = %q, want %q", event.Topic, domain.TopicAnalysisCompleted)
		}
		if event.TenantID != "tenant-001" {
			t.Errorf("tenant = %q, want tenant-001", event.TenantID)
		}
		if !bytes.Contains(event.Payload, []byte("run-stream-001")) {
			t.Errorf("payload = %s, want run-stream-001", event.Payload)
		}
	})

	t.Run("OtherTenantEventsNotDelivered", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
		header := http.Header{TenantIDHeader: []string{"tenant-a"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("failed to dial stream: %v", err)
		}
		defer conn.Close()

		time.Sleep(50 * time.Millisecond)

		if err := env.bus.Publish(context.Background(), "tenant-b", domain.TopicAlertRaised, []byte(`{}`)); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}

		conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("expected no event for other tenant")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
