package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onnwee/orbit/internal/rules"
)

// RuleService is the notification rule surface used by the handlers.
type RuleService interface {
	Create(ctx context.Context, in rules.CreateInput) (*rules.Rule, error)
	Toggle(ctx context.Context, ruleID string, active bool) (*rules.Rule, error)
	List(eventID string) ([]rules.Rule, error)
}

// CreateRuleRequest represents the request body for creating a rule.
type CreateRuleRequest struct {
	Scope        rules.Scope `json:"scope"`
	TargetUserID string      `json:"target_user_id,omitempty"`
	NotifyUserID string      `json:"notify_user_id"`
	OnEnter      bool        `json:"on_enter"`
	OnExit       bool        `json:"on_exit"`
}

// ToggleRuleRequest represents the request body for PATCH /rules/{ruleID}.
type ToggleRuleRequest struct {
	Active *bool `json:"active"`
}

// RuleListResponse wraps the rules of an event.
type RuleListResponse struct {
	Rules []rules.Rule `json:"rules"`
}

// RuleHandlers holds dependencies for rule HTTP handlers.
type RuleHandlers struct {
	rules RuleService
}

// NewRuleHandlers creates a new RuleHandlers instance.
func NewRuleHandlers(svc RuleService) *RuleHandlers {
	return &RuleHandlers{rules: svc}
}

// CreateRule handles POST /events/{eventID}/rules.
func (h *RuleHandlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := h.rules.Create(r.Context(), rules.CreateInput{
		EventID:      chi.URLParam(r, "eventID"),
		Scope:        req.Scope,
		TargetUserID: req.TargetUserID,
		NotifyUserID: req.NotifyUserID,
		OnEnter:      req.OnEnter,
		OnExit:       req.OnExit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, rule)
}

// ListRules handles GET /events/{eventID}/rules.
func (h *RuleHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.List(chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, r, http.StatusOK, RuleListResponse{Rules: list})
}

// ToggleRule handles PATCH /rules/{ruleID}.
func (h *RuleHandlers) ToggleRule(w http.ResponseWriter, r *http.Request) {
	var req ToggleRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeCodedError(w, r, http.StatusBadRequest, ErrCodeValidation, "active is required")
		return
	}

	rule, err := h.rules.Toggle(r.Context(), chi.URLParam(r, "ruleID"), *req.Active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rule)
}
