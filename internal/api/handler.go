package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ingest"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/triage"
	"github.com/opensource-finance/shrike/internal/worker"
)

// GlobalTenantID is used for policies that apply to all tenants.
const GlobalTenantID = "*"

// maxUploadBytes caps multipart ledger uploads.
const maxUploadBytes = 32 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	processor *worker.Processor
	policies  *triage.Engine
	hub       *Hub
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, processor *worker.Processor, policies *triage.Engine, hub *Hub, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		processor: processor,
		policies:  policies,
		hub:       hub,
		version:   version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// AnalyzeLedger handles POST /v1/ledger/analyze: parse the submitted ledger,
// run the full pipeline synchronously, and respond with the completed run.
// Accepts either a multipart CSV upload ("file" field) or a JSON body.
func (h *Handler) AnalyzeLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	txs, ok := h.readLedger(w, r)
	if !ok {
		return
	}

	// Identical ledgers resolve to the already-computed run.
	if cached := h.processor.CachedRunForLedger(ctx, tenantID, txs); cached != nil {
		slog.Info("ledger served from cache", "run_id", cached.ID, "tenant_id", tenantID)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	job := &domain.LedgerJob{
		TenantID:     tenantID,
		SubmittedAt:  time.Now().UTC(),
		Transactions: txs,
	}

	run, err := h.processor.Process(ctx, job)
	if err != nil {
		slog.Error("ledger analysis failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// SubmitLedger handles POST /v1/ledger/submit: validate the ledger, publish
// it for asynchronous analysis, and respond 202 with the run id.
func (h *Handler) SubmitLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	txs, ok := h.readLedger(w, r)
	if !ok {
		return
	}

	job := &domain.LedgerJob{
		RunID:        uuid.New().String(),
		TenantID:     tenantID,
		SubmittedAt:  time.Now().UTC(),
		Transactions: txs,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		slog.Error("failed to marshal ledger job", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue ledger",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicLedgerSubmitted, payload); err != nil {
		slog.Error("failed to publish ledger job", "run_id", job.RunID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to enqueue ledger",
		})
		return
	}

	slog.Info("ledger submitted", "run_id", job.RunID, "tenant_id", tenantID, "tx_count", len(txs))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":   job.RunID,
		"status":   "accepted",
		"tx_count": len(txs),
	})
}

// readLedger parses the request body into transactions, handling both
// multipart CSV uploads and JSON bodies. On failure it writes the error
// response and returns ok=false.
func (h *Handler) readLedger(w http.ResponseWriter, r *http.Request) ([]domain.Transaction, bool) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if contentType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid multipart form",
			})
			return nil, false
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "file field is required",
			})
			return nil, false
		}
		defer file.Close()

		if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "only CSV files are allowed",
			})
			return nil, false
		}

		txs, stats, err := ingest.ParseCSV(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return nil, false
		}
		slog.Debug("ledger parsed", "rows", stats.Rows, "accounts", stats.Accounts, "duplicate_ids", stats.DuplicateIDs)
		return txs, true
	}

	var req domain.LedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}

	txs, stats, err := ingest.ParseRows(req.Transactions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return nil, false
	}
	slog.Debug("ledger parsed", "rows", stats.Rows, "accounts", stats.Accounts, "duplicate_ids", stats.DuplicateIDs)
	return txs, true
}

// GetLatestAnalysis handles GET /v1/analysis/latest.
func (h *Handler) GetLatestAnalysis(w http.ResponseWriter, r *http.Request) {
	run, ok := h.latestRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetAnalysis retrieves a run by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "runID")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	// Cache first; the processor stores completed runs under run:<id>.
	if h.cache != nil {
		if run, err := h.cache.GetRun(ctx, tenantID, domain.RunKeyPrefix+runID); err == nil && run != nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "run not found",
			})
			return
		}
		slog.Error("failed to get run", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns recent runs for the tenant, newest first, without result
// bodies.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRings returns all fraud rings from the latest run.
func (h *Handler) GetRings(w http.ResponseWriter, r *http.Request) {
	run, ok := h.latestRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rings":  run.Result.FraudRings,
		"count":  len(run.Result.FraudRings),
		"run_id": run.ID,
	})
}

// GetRing returns one fraud ring from the latest run by ring ID.
func (h *Handler) GetRing(w http.ResponseWriter, r *http.Request) {
	ringID := chi.URLParam(r, "ringID")
	if ringID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ring id is required",
		})
		return
	}

	run, ok := h.latestRun(w, r)
	if !ok {
		return
	}

	for _, ring := range run.Result.FraudRings {
		if ring.RingID == ringID {
			writeJSON(w, http.StatusOK, ring)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("ring '%s' not found", ringID),
	})
}

// AccountDetailResponse is the response for GET /v1/accounts/{accountID}:
// the account's analysis plus its graph neighborhood from the latest run.
type AccountDetailResponse struct {
	Account      *domain.AccountAnalysis `json:"account"`
	Degree       int                     `json:"degree"`
	SendsTo      []string                `json:"sends_to"`
	ReceivesFrom []string                `json:"receives_from"`
	Community    int                     `json:"community"`
	RunID        string                  `json:"run_id"`
}

// GetAccount returns suspicion details and graph context for one account
// from the latest run.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id is required",
		})
		return
	}

	run, ok := h.latestRun(w, r)
	if !ok {
		return
	}

	account, found := run.Result.AllAccounts[accountID]
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("account '%s' not found", accountID),
		})
		return
	}

	resp := AccountDetailResponse{
		Account:      account,
		Degree:       run.Result.NodeDegrees[accountID],
		SendsTo:      run.Result.Adjacency[accountID],
		ReceivesFrom: run.Result.ReverseAdjacency[accountID],
		Community:    run.Result.Communities[accountID],
		RunID:        run.ID,
	}
	if resp.SendsTo == nil {
		resp.SendsTo = []string{}
	}
	if resp.ReceivesFrom == nil {
		resp.ReceivesFrom = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetReportHash returns the audit hash of the latest run.
func (h *Handler) GetReportHash(w http.ResponseWriter, r *http.Request) {
	run, ok := h.latestRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report_hash":  run.ReportHash,
		"run_id":       run.ID,
		"generated_at": run.CreatedAt,
	})
}

// latestRun resolves the tenant's most recent hydrated run: cache first,
// then newest persisted run, backfilling the cache on the way out. On
// failure it writes the error response and returns ok=false.
func (h *Handler) latestRun(w http.ResponseWriter, r *http.Request) (*domain.AnalysisRun, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.cache != nil {
		if run, err := h.cache.GetRun(ctx, tenantID, domain.RunKeyLatest); err == nil && run != nil && run.Result != nil {
			return run, true
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no analysis has been run yet",
		})
		return nil, false
	}

	runs, err := h.repo.ListRuns(ctx, tenantID, 1)
	if err != nil || len(runs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no analysis has been run yet",
		})
		return nil, false
	}

	run, err := h.repo.GetRun(ctx, tenantID, runs[0].ID)
	if err != nil {
		slog.Error("failed to load latest run", "run_id", runs[0].ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load latest run",
		})
		return nil, false
	}

	if h.cache != nil {
		if err := h.cache.SetRun(ctx, tenantID, domain.RunKeyLatest, run, 24*time.Hour); err != nil {
			slog.Warn("failed to backfill latest run cache", "error", err)
		}
	}

	return run, true
}

// CreatePolicyRequest is the request body for creating a triage policy.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// ListPolicies returns all policies loaded in the triage engine.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "triage engine not available",
		})
		return
	}

	loaded := h.policies.LoadedPolicies()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
	})
}

// CreatePolicy creates a new triage policy and saves it to the database.
// Policies are saved globally (tenant_id = "*") so they apply to all
// tenants; the engine is reloaded immediately.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	if req.Severity == "" {
		req.Severity = domain.SeverityMedium
	}

	now := time.Now().UTC()
	policy := &domain.Policy{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    req.Severity,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Validate CEL expression before persisting
	if err := h.policies.ValidatePolicy(policy); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, GlobalTenantID, policy); err != nil {
			slog.Error("failed to save policy", "id", policy.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	if err := h.reloadPolicies(ctx); err != nil {
		slog.Error("failed to reload policies after create", "error", err)
	}

	slog.Info("policy created", "id", policy.ID, "name", policy.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  policy,
		"message": "policy created and engine reloaded",
	})
}

// DeletePolicy deletes a triage policy and reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeletePolicy(ctx, GlobalTenantID, policyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}
		slog.Error("failed to delete policy", "id", policyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete policy",
		})
		return
	}

	if err := h.reloadPolicies(ctx); err != nil {
		slog.Error("failed to reload policies after delete", "error", err)
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policy deleted and engine reloaded",
	})
}

// reloadPolicies rebuilds the engine's policy set from the builtins plus
// everything persisted under the global tenant.
func (h *Handler) reloadPolicies(ctx context.Context) error {
	if h.policies == nil {
		return nil
	}

	all := triage.Builtin()
	if h.repo != nil {
		stored, err := h.repo.ListPolicies(ctx, GlobalTenantID)
		if err != nil {
			return err
		}
		all = append(all, stored...)
	}

	return h.policies.ReloadPolicies(all)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
