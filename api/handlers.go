/*
handlers.go - HTTP API handlers for the reaction points ledger

PURPOSE:
  Exposes the reaction engine via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every balance movement to
  reaction.Engine. Handlers never move points themselves and never
  compensate a failed toggle.

ENDPOINTS:
  Reactions (authenticated):
    POST   /api/targets/{type}/{id}/like      Toggle like
    POST   /api/targets/{type}/{id}/dislike   Toggle dislike
    GET    /api/targets/{type}/{id}/reaction  Caller's current state

  Targets:
    GET    /api/targets                 List targets
    POST   /api/targets                 Register a target (own content, or admin)
    GET    /api/targets/{type}/{id}     Target with counters

  Accounts:
    GET    /api/accounts                List accounts
    POST   /api/accounts                Open an account (admin)
    GET    /api/accounts/{id}           Account with balance
    GET    /api/accounts/{id}/entries   Journal (?limit=N, newest N)

  Policies:
    GET    /api/policies                Live policy per target type
    PUT    /api/policies/{type}         Replace one policy (admin)

  Audit:
    GET    /api/audit/runs              Recent audit runs
    POST   /api/audit/run               Run the auditor now (admin)

  Scenarios:
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Reset and load a scenario (admin)

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: invalid input, unknown reaction or target type
  - 401: no or invalid credentials
  - 403: insufficient balance, forbidden self-reaction, not an admin
  - 404: unknown account or target
  - 409: duplicate account/target, concurrency conflict after retry
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/factory"
	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/logger"
	"github.com/nuxni/reaction-engine/reaction"
)

const (
	defaultEntriesLimit = 50
	defaultAuditLimit   = 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         generic.Backend
	Engine        *reaction.Engine
	PolicyFactory *factory.PolicyFactory
	Auditor       *Auditor

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Its auditor is not started; callers that
// want periodic runs configure and Start it.
func NewHandler(store generic.Backend, engine *reaction.Engine) *Handler {
	return &Handler{
		Store:         store,
		Engine:        engine,
		PolicyFactory: factory.NewPolicyFactory(),
		Auditor:       NewAuditor(store),
	}
}

// =============================================================================
// REACTION HANDLERS
// =============================================================================

// React returns the handler toggling action for the authenticated actor.
// POST /api/targets/{type}/{id}/like
// POST /api/targets/{type}/{id}/dislike
func (h *Handler) React(action reaction.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", errMissingCredentials)
			return
		}
		ref, err := targetRefParam(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		res, err := h.Engine.ApplyReaction(r.Context(), actor, ref, action)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toReactionResponse(res))
	}
}

// GetReaction returns the caller's state on a target.
// GET /api/targets/{type}/{id}/reaction
func (h *Handler) GetReaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", errMissingCredentials)
		return
	}
	ref, err := targetRefParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	state, err := h.Engine.ReactionState(r.Context(), actor, ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionStateDTO{
		Target:  ref.Key(),
		ActorID: string(actor),
		State:   string(state),
	})
}

// =============================================================================
// TARGET HANDLERS
// =============================================================================

// ListTargets returns every registered target.
// GET /api/targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.Store.ListTargets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list targets", err)
		return
	}
	dtos := make([]TargetDTO, len(targets))
	for i, t := range targets {
		dtos[i] = toTargetDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTarget returns a target with its counters.
// GET /api/targets/{type}/{id}
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	ref, err := targetRefParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	t, err := h.Store.Target(r.Context(), ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTargetDTO(t))
}

// CreateTarget registers a reactable entity with zero counters. Callers
// register their own content; admins may register it for anyone.
// POST /api/targets
func (h *Handler) CreateTarget(admin *AdminGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized", errMissingCredentials)
			return
		}

		var req CreateTargetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if req.OwnerID == "" {
			req.OwnerID = string(actor)
		}
		ref, err := generic.ParseTargetRef(req.Type, req.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		owner := generic.AccountID(req.OwnerID)
		if owner != actor {
			if err := admin.Allow(actor); err != nil {
				writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("cannot register content for %s: %w", owner, err))
				return
			}
		}

		ctx := r.Context()
		if _, err := h.Store.Account(ctx, owner); err != nil {
			writeDomainError(w, err)
			return
		}

		target := generic.Target{Ref: ref, OwnerID: owner, CreatedAt: time.Now().UTC()}
		if err := h.Store.RegisterTarget(ctx, target); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTargetDTO(target))
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every account.
// GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount opens an account with an initial balance.
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Balance < 0 {
		writeDomainError(w, fmt.Errorf("%w: balance %d", generic.ErrNegativeAmount, req.Balance))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	now := time.Now().UTC()
	acct := generic.Account{
		ID:        generic.AccountID(req.ID),
		Name:      req.Name,
		Balance:   generic.Points(req.Balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.OpenAccount(r.Context(), acct); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// GetAccount returns an account and its balance.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Store.Account(r.Context(), generic.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetEntries returns the newest entries of an account's journal, oldest first.
// GET /api/accounts/{id}/entries?limit=N (limit=0 returns everything)
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.AccountID(chi.URLParam(r, "id"))

	limit, err := intQuery(r, "limit", defaultEntriesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	acct, err := h.Store.Account(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := h.Store.Entries(ctx, id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entries", err)
		return
	}

	writeJSON(w, http.StatusOK, EntriesResponse{
		AccountID: string(id),
		Balance:   acct.Balance.Int64(),
		Entries:   toEntryDTOs(entries),
	})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the live policy of every target type.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.Engine.Policies().All()
	dtos := make([]factory.PolicyJSON, len(policies))
	for i, p := range policies {
		dtos[i] = h.PolicyFactory.ToJSON(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdatePolicy stores and applies a policy for one target type. Omitted
// fields take the defaults.
// PUT /api/policies/{type}
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	typeID := chi.URLParam(r, "type")

	var pj factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if pj.TargetType != "" && pj.TargetType != typeID {
		writeError(w, http.StatusBadRequest, "target_type does not match the URL", nil)
		return
	}
	pj.TargetType = typeID

	policy, err := h.PolicyFactory.FromJSON(pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}
	if err := h.PolicyFactory.Save(r.Context(), h.Store, h.Engine.Policies(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}

	logger.Log.Info("policy updated",
		zap.String("target_type", typeID),
		zap.String("self_reaction", string(policy.SelfReaction)),
	)
	writeJSON(w, http.StatusOK, h.PolicyFactory.ToJSON(policy))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditRuns returns recent audit runs, newest first.
// GET /api/audit/runs?limit=N
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Store.AuditRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit runs", err)
		return
	}
	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunAudit runs the auditor synchronously.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	run, err := h.Auditor.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditRunDTO(run))
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports whether the store is reachable and the platform account exists.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unhealthy", fmt.Errorf("store unreachable: %w", err))
		return
	}
	if err := h.Engine.VerifyPlatform(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Unhealthy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func targetRefParam(r *http.Request) (generic.TargetRef, error) {
	return generic.ParseTargetRef(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw)
	}
	return n, nil
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusForbidden, "Insufficient balance"
	case errors.Is(err, generic.ErrSelfReaction):
		return http.StatusForbidden, "Self reaction not allowed"
	case generic.IsNotFound(err):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, generic.ErrInvalidReaction),
		errors.Is(err, generic.ErrUnknownTargetType),
		errors.Is(err, generic.ErrNegativeAmount):
		return http.StatusBadRequest, "Invalid request"
	case generic.IsConflict(err):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorWithFields("request failed", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.ErrorWithFields("failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
