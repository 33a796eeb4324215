package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/ledger"
	"github.com/opensource-loyalty/magpie/internal/repository"
	"github.com/opensource-loyalty/magpie/internal/rules"
	"github.com/opensource-loyalty/magpie/internal/sweep"
)

// Handler handles HTTP requests for the loyalty API.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	compiler   *rules.Compiler
	ledger     *ledger.Service
	activity   domain.ActivityProvider
	expiration *sweep.ExpirationSweep
	tier       *sweep.TierSweep
	version    string
	startTime  time.Time
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, compiler *rules.Compiler, ledgerSvc *ledger.Service, activity domain.ActivityProvider, expiration *sweep.ExpirationSweep, tier *sweep.TierSweep, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		compiler:   compiler,
		ledger:     ledgerSvc,
		activity:   activity,
		expiration: expiration,
		tier:       tier,
		version:    version,
		startTime:  time.Now(),
	}
}

// Health returns service health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Ready checks whether the service can serve traffic. The repository must
// respond; the cache is degradable and only reported.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{}
	ready := true

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			checks["repository"] = "unavailable: " + err.Error()
			ready = false
		} else {
			checks["repository"] = "ok"
		}
	} else {
		checks["repository"] = "not configured"
		ready = false
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["cache"] = "unavailable: " + err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

// ============================================================================
// TRANSACTION HANDLERS
// ============================================================================

// CreateTransaction records a purchase and feeds it into the reward pipeline.
// Transactions for unknown members are rejected up front.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	exists, err := h.repo.MemberExists(ctx, req.MemberID)
	if err != nil {
		slog.Error("failed to check member existence", "member_id", req.MemberID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to verify member",
		})
		return
	}
	if !exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("member %d does not exist", req.MemberID),
		})
		return
	}

	tx := req.ToTransaction()
	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "member_id", req.MemberID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	evt := domain.TransactionCreatedEvent{
		TransactionID:   tx.ID,
		MemberID:        tx.MemberID,
		Amount:          tx.Amount,
		PaymentMethod:   tx.PaymentMethod,
		ProductCategory: tx.ProductCategory,
	}
	payload, _ := json.Marshal(evt)
	if err := h.bus.Publish(ctx, domain.TopicTransactionCreated, payload); err != nil {
		// The transaction is recorded; the pipeline missed it. Surface the
		// failure instead of pretending points are on the way.
		slog.Error("failed to publish transaction event", "transaction_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "transaction saved but event publication failed",
		})
		return
	}

	slog.Info("transaction recorded",
		"transaction_id", tx.ID,
		"member_id", tx.MemberID,
		"amount", tx.Amount,
		"trace_id", GetTraceID(ctx),
	)
	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ============================================================================
// MEMBER HANDLERS
// ============================================================================

// CreateMemberRequest is the request body for enrolling a member.
type CreateMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// CreateMember enrolls a new member at BRONZE with a zero balance.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and email are required",
		})
		return
	}

	member := &domain.Member{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Tier:  domain.TierBronze,
	}
	if err := h.repo.SaveMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "a member with this email already exists",
			})
			return
		}
		slog.Error("failed to save member", "email", req.Email, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save member",
		})
		return
	}

	slog.Info("member enrolled", "member_id", member.ID, "email", member.Email)
	writeJSON(w, http.StatusCreated, member)
}

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.repo.ListMembers(r.Context())
	if err != nil {
		slog.Error("failed to list members", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list members",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

// GetMember retrieves a member by ID, cache first.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if h.cache != nil {
		if member, err := h.cache.GetMember(ctx, id); err == nil && member != nil {
			writeJSON(w, http.StatusOK, member)
			return
		}
	}

	member, err := h.repo.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "member not found",
			})
			return
		}
		slog.Error("failed to get member", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get member",
		})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// UpdateMemberRequest is the request body for updating member contact details.
// Balances and tier are owned by the ledger and sweeps, not this endpoint.
type UpdateMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// UpdateMember updates a member's contact details.
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	member, err := h.repo.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "member not found",
			})
			return
		}
		slog.Error("failed to get member", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get member",
		})
		return
	}

	if req.Name != "" {
		member.Name = req.Name
	}
	if req.Email != "" {
		member.Email = req.Email
	}
	if req.Phone != "" {
		member.Phone = req.Phone
	}

	if err := h.repo.UpdateMember(ctx, member); err != nil {
		slog.Error("failed to update member", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update member",
		})
		return
	}

	writeJSON(w, http.StatusOK, member)
}

// GetBalance returns a member's point balances and tier.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var member *domain.Member
	if h.cache != nil {
		member, _ = h.cache.GetMember(ctx, id)
	}
	if member == nil {
		var err error
		member, err = h.repo.GetMember(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "member not found",
				})
				return
			}
			slog.Error("failed to get member", "id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to get member",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memberId":       member.ID,
		"tier":           member.Tier,
		"totalPoints":    member.TotalPoints,
		"lifetimePoints": member.LifetimePoints,
		"expiredPoints":  member.ExpiredPoints,
	})
}

// ListMemberTransactions returns a member's recent transactions.
func (h *Handler) ListMemberTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	txs, err := h.repo.ListTransactionsByMember(r.Context(), id, limit)
	if err != nil {
		slog.Error("failed to list transactions", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// ListMemberPoints returns a member's point ledger entries.
func (h *Handler) ListMemberPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entries, err := h.repo.ListPointTransactionsByMember(r.Context(), id)
	if err != nil {
		slog.Error("failed to list point transactions", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list point transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pointTransactions": entries,
		"count":             len(entries),
	})
}

// GetMemberSummary returns a member's activity summary for a period.
// Period is MONTHLY (default), QUARTERLY, or a specific YYYY-MM month.
func (h *Handler) GetMemberSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = domain.PeriodMonthly
	}

	summary, err := h.activity.GetSummary(r.Context(), id, period)
	if err != nil {
		slog.Error("failed to get activity summary", "member_id", id, "period", period, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to get activity summary: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period":  period,
		"summary": summary,
	})
}

// ListMemberAudits returns a member's rule firing audit trail.
func (h *Handler) ListMemberAudits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	audits, err := h.repo.ListRuleAudits(r.Context(), id, limit)
	if err != nil {
		slog.Error("failed to list rule audits", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rule audits",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audits": audits,
		"count":  len(audits),
	})
}

// ResetMemberPoints wipes a member's ledger back to the welcome state.
func (h *Handler) ResetMemberPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if h.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ledger not available",
		})
		return
	}

	if err := h.ledger.ResetMemberPoints(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "member not found",
			})
			return
		}
		slog.Error("failed to reset member points", "member_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reset member points",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "member points reset",
	})
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// ListRules returns all stored rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and stores a new rule, then rebuilds the session so
// the rule takes effect immediately. A rebuild failure surfaces to the
// caller; evaluations keep the previously compiled session.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := validateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if rule.Expression != "" && h.compiler != nil {
		if err := h.compiler.ValidateExpression(rule.Expression); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "name", rule.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	if err := h.rebuildSession(ctx, w); err != nil {
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created and session rebuilt.",
	})
}

// UpdateRule replaces an existing rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.ID = id

	if err := validateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if rule.Expression != "" && h.compiler != nil {
		if err := h.compiler.ValidateExpression(rule.Expression); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.UpdateRule(ctx, &rule); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to update rule", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update rule",
		})
		return
	}

	if err := h.rebuildSession(ctx, w); err != nil {
		return
	}

	slog.Info("rule updated", "id", id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule":    rule,
		"message": "Rule updated and session rebuilt.",
	})
}

// DeleteRule deletes a rule and rebuilds the session immediately.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.repo.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	if err := h.rebuildSession(ctx, w); err != nil {
		return
	}

	slog.Info("rule deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule deleted and session rebuilt.",
	})
}

// rebuildSession recompiles the rule session after a mutation and writes the
// error response itself on failure.
func (h *Handler) rebuildSession(ctx context.Context, w http.ResponseWriter) error {
	if h.compiler == nil {
		return nil
	}
	if err := h.compiler.Rebuild(ctx); err != nil {
		slog.Error("failed to rebuild rule session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule stored but session rebuild failed: " + err.Error(),
		})
		return err
	}
	return nil
}

// ReloadRules recompiles the rule session from the store. This enables
// hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.compiler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule compiler not available",
		})
		return
	}

	if err := h.compiler.Rebuild(r.Context()); err != nil {
		slog.Error("failed to rebuild rule session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.compiler.RuleCount()
	slog.Info("rules reloaded", "compiled_count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":       "rules reloaded successfully",
		"compiledCount": count,
	})
}

// validateRule checks the fields every stored rule must carry.
func validateRule(rule *domain.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("ruleName is required")
	}
	switch rule.RuleType {
	case domain.RuleTypeEvent, domain.RuleTypeTransaction, domain.RuleTypeSimple:
	case "":
		return fmt.Errorf("ruleType is required")
	default:
		return fmt.Errorf("unknown ruleType %q", rule.RuleType)
	}
	if rule.RuleType == domain.RuleTypeEvent && rule.Conditions.EventType == "" {
		return fmt.Errorf("event rules require conditions.eventType")
	}
	return nil
}

// ============================================================================
// TIER THRESHOLD HANDLERS
// ============================================================================

// ListTierThresholds returns the re-tiering ladder in priority order.
func (h *Handler) ListTierThresholds(w http.ResponseWriter, r *http.Request) {
	thresholds, err := h.repo.ListTierThresholds(r.Context())
	if err != nil {
		slog.Error("failed to list tier thresholds", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list tier thresholds",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thresholds": thresholds,
		"count":      len(thresholds),
	})
}

// CreateTierThreshold adds a rung to the re-tiering ladder.
func (h *Handler) CreateTierThreshold(w http.ResponseWriter, r *http.Request) {
	var th domain.TierThreshold
	if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if !th.TargetTier.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown tier %q", th.TargetTier),
		})
		return
	}
	if th.MinMonthlyAmount < 0 || th.MinMonthlyTransactionCount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "thresholds must be non-negative",
		})
		return
	}

	if err := h.repo.SaveTierThreshold(r.Context(), &th); err != nil {
		slog.Error("failed to save tier threshold", "tier", th.TargetTier, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save tier threshold",
		})
		return
	}

	slog.Info("tier threshold created", "id", th.ID, "tier", th.TargetTier)
	writeJSON(w, http.StatusCreated, th)
}

// DeleteTierThreshold removes a rung from the re-tiering ladder.
func (h *Handler) DeleteTierThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteTierThreshold(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "tier threshold not found",
			})
			return
		}
		slog.Error("failed to delete tier threshold", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete tier threshold",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "tier threshold deleted",
	})
}

// ============================================================================
// EXPIRATION CONFIG HANDLERS
// ============================================================================

// ListExpirationConfigs returns all point expiration configs.
func (h *Handler) ListExpirationConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.repo.ListExpirationConfigs(r.Context())
	if err != nil {
		slog.Error("failed to list expiration configs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list expiration configs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"count":   len(configs),
	})
}

// CreateExpirationConfig stores a new expiration config. An active config
// takes effect for points earned from now on; existing entries keep their
// expiry dates.
func (h *Handler) CreateExpirationConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.PointExpirationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.ExpirationMonths <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expirationMonths must be positive",
		})
		return
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.PolicyRolling
	}

	if err := h.repo.SaveExpirationConfig(r.Context(), &cfg); err != nil {
		slog.Error("failed to save expiration config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save expiration config",
		})
		return
	}

	slog.Info("expiration config created", "id", cfg.ID, "months", cfg.ExpirationMonths, "active", cfg.Active)
	writeJSON(w, http.StatusCreated, cfg)
}

// ============================================================================
// ADMIN SWEEP HANDLERS
// ============================================================================

// RunExpirationSweep triggers the point expiration sweep immediately.
func (h *Handler) RunExpirationSweep(w http.ResponseWriter, r *http.Request) {
	if h.expiration == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "expiration sweep not available",
		})
		return
	}

	n, err := h.expiration.Run(r.Context())
	if err != nil {
		slog.Error("expiration sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "expiration sweep failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "expiration sweep complete",
		"expiredEntries": n,
	})
}

// RunTierEvaluation triggers the monthly tier evaluation immediately.
func (h *Handler) RunTierEvaluation(w http.ResponseWriter, r *http.Request) {
	if h.tier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "tier sweep not available",
		})
		return
	}

	n, err := h.tier.Run(r.Context())
	if err != nil {
		slog.Error("tier evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "tier evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "tier evaluation complete",
		"membersChanged": n,
	})
}

// pathID parses the {id} URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid id",
		})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
