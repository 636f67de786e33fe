/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reactions:
    ReactionResponse, ReactionStateDTO

  Targets:
    TargetDTO, CreateTargetRequest

  Accounts:
    AccountDTO, CreateAccountRequest, EntryDTO

  Policies:
    factory.PolicyJSON is used as-is

  Audit:
    AuditRunDTO, DriftDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

POINTS ON THE WIRE:
  Balances and deltas are whole points and are serialized as JSON integers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/reaction"
)

// =============================================================================
// REACTIONS
// =============================================================================

// ReactionResponse is returned by POST /api/targets/{type}/{id}/like|dislike.
type ReactionResponse struct {
	Success    bool   `json:"success"`
	Likes      int64  `json:"likes"`
	Dislikes   int64  `json:"dislikes"`
	State      string `json:"state"`
	Balance    int64  `json:"balance"`
	Transition string `json:"transition"`
}

// ReactionStateDTO is the caller's current reaction on a target.
type ReactionStateDTO struct {
	Target  string `json:"target"`
	ActorID string `json:"actor_id"`
	State   string `json:"state"`
}

// =============================================================================
// TARGETS
// =============================================================================

type TargetDTO struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Likes     int64  `json:"likes"`
	Dislikes  int64  `json:"dislikes"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateTargetRequest struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateAccountRequest opens an account. An empty ID is generated.
type CreateAccountRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

// EntryDTO is one journal line.
type EntryDTO struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Delta      int64  `json:"delta"`
	Kind       string `json:"kind"`
	Target     string `json:"target,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Transition string `json:"transition,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// EntriesResponse wraps an account's journal with the balance it replays to.
type EntriesResponse struct {
	AccountID string     `json:"account_id"`
	Balance   int64      `json:"balance"`
	Entries   []EntryDTO `json:"entries"`
}

// =============================================================================
// AUDIT
// =============================================================================

type DriftDTO struct {
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

type AuditRunDTO struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	TargetsChecked  int        `json:"targets_checked"`
	AccountsChecked int        `json:"accounts_checked"`
	DriftCount      int        `json:"drift_count"`
	Drifts          []DriftDTO `json:"drifts"`
	Error           string     `json:"error,omitempty"`
	StartedAt       string     `json:"started_at"`
	CompletedAt     string     `json:"completed_at,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists what a scenario created.
type LoadScenarioResponse struct {
	ScenarioID string       `json:"scenario_id"`
	Accounts   []AccountDTO `json:"accounts"`
	Targets    []TargetDTO  `json:"targets"`
	Reactions  int          `json:"reactions"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTargetDTO(t generic.Target) TargetDTO {
	dto := TargetDTO{
		ID:       t.Ref.ID,
		OwnerID:  string(t.OwnerID),
		Likes:    t.LikeCount,
		Dislikes: t.DislikeCount,
	}
	if t.Ref.Type != nil {
		dto.Type = t.Ref.Type.TypeID()
	}
	if !t.CreatedAt.IsZero() {
		dto.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toAccountDTO(a generic.Account) AccountDTO {
	dto := AccountDTO{
		ID:      string(a.ID),
		Name:    a.Name,
		Balance: a.Balance.Int64(),
	}
	if !a.CreatedAt.IsZero() {
		dto.CreatedAt = a.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toEntryDTOs(entries []generic.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:         string(e.ID),
			AccountID:  string(e.AccountID),
			Delta:      e.Delta.Int64(),
			Kind:       string(e.Kind),
			ActorID:    string(e.ActorID),
			Transition: e.Transition,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		}
		if e.Target.ID != "" {
			dtos[i].Target = e.Target.Key()
		}
	}
	return dtos
}

func toReactionResponse(res *reaction.Result) ReactionResponse {
	return ReactionResponse{
		Success:    true,
		Likes:      res.Target.LikeCount,
		Dislikes:   res.Target.DislikeCount,
		State:      string(res.State),
		Balance:    res.ActorBalance.Int64(),
		Transition: res.Transition.Name,
	}
}

func toAuditRunDTO(run generic.AuditRun) AuditRunDTO {
	dto := AuditRunDTO{
		ID:              run.ID,
		Status:          string(run.Status),
		TargetsChecked:  run.TargetsChecked,
		AccountsChecked: run.AccountsChecked,
		DriftCount:      len(run.Drifts),
		Drifts:          make([]DriftDTO, len(run.Drifts)),
		Error:           run.Error,
		StartedAt:       run.StartedAt.Format(time.RFC3339),
	}
	for i, d := range run.Drifts {
		dto.Drifts[i] = DriftDTO(d)
	}
	if !run.CompletedAt.IsZero() {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
