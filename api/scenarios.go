/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the datastore with accounts,
	targets and reactions demonstrating specific behaviours of the engine.

AVAILABLE SCENARIOS:

	walkthrough:  Platform 1000, actor 100, owner 50, one post. Toggle
	              like/unlike/dislike/switch by hand and watch the balances.
	low-balance:  The actor has already disliked the post and holds 23 points,
	              one short of switching to like (24 required).
	crowd:        Random accounts, targets and reactions generated with
	              gofakeit. Reactions go through the engine, so the
	              journal and counters stay consistent.

HOW SCENARIOS WORK:
 1. Reset datastore (clear all data)
 2. Open the platform account with 1000 points
 3. Open accounts and register targets
 4. Optionally apply reactions through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "walkthrough"}

USAGE VIA CLI:

	server seed --scenario crowd

NOTE:

	Scenarios reset the datastore. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: router wiring
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/logger"
	"github.com/nuxni/reaction-engine/reaction"
)

// PlatformOpeningBalance is what every scenario gives the platform account.
const PlatformOpeningBalance = 1000

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "walkthrough",
		Name:        "Walkthrough",
		Description: "Actor alice (100) and owner olivia (50) with one post",
	},
	{
		ID:          "low-balance",
		Name:        "Low Balance",
		Description: "bob disliked the post and holds 23 points, one short of switching to like",
	},
	{
		ID:          "crowd",
		Name:        "Crowd",
		Description: "Random accounts, targets and reactions",
	},
}

// ErrUnknownScenario is returned for a scenario ID that isn't defined.
var ErrUnknownScenario = errors.New("unknown scenario")

// ScenarioLoader resets a backend and fills it with one scenario.
type ScenarioLoader struct {
	Store  generic.Backend
	Engine *reaction.Engine

	// Seed drives the crowd scenario; 0 picks a random seed.
	Seed uint64

	// CrowdSize is the number of accounts in the crowd scenario.
	CrowdSize int
}

func NewScenarioLoader(store generic.Backend, engine *reaction.Engine) *ScenarioLoader {
	return &ScenarioLoader{Store: store, Engine: engine, CrowdSize: 8}
}

// Scenarios lists the available scenarios.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	copy(out, scenarios)
	return out
}

// Load resets the datastore and loads scenario id.
func (l *ScenarioLoader) Load(ctx context.Context, id string) (*LoadScenarioResponse, error) {
	var load func(context.Context, *scenarioBuilder) error
	switch id {
	case "walkthrough":
		load = loadWalkthroughScenario
	case "low-balance":
		load = loadLowBalanceScenario
	case "crowd":
		load = l.loadCrowdScenario
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	if err := l.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset store: %w", err)
	}

	b := &scenarioBuilder{
		store:  l.Store,
		engine: l.Engine,
		resp:   &LoadScenarioResponse{ScenarioID: id},
	}
	if err := b.account(ctx, l.Engine.PlatformAccount(), "Platform", PlatformOpeningBalance); err != nil {
		return nil, err
	}
	if err := load(ctx, b); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}

	logger.Log.Info("scenario loaded",
		zap.String("scenario", id),
		zap.Int("accounts", len(b.resp.Accounts)),
		zap.Int("targets", len(b.resp.Targets)),
		zap.Int("reactions", b.resp.Reactions),
	)
	return b.resp, nil
}

// =============================================================================
// HTTP HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Scenarios())
}

// GetCurrentScenario returns the last scenario loaded by this process.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the datastore and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	resp, err := NewScenarioLoader(h.Store, h.Engine).Load(r.Context(), req.ScenarioID)
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type scenarioBuilder struct {
	store  generic.Backend
	engine *reaction.Engine
	resp   *LoadScenarioResponse
}

func (b *scenarioBuilder) account(ctx context.Context, id generic.AccountID, name string, balance int64) error {
	now := time.Now().UTC()
	acct := generic.Account{
		ID:        id,
		Name:      name,
		Balance:   generic.Points(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.OpenAccount(ctx, acct); err != nil {
		return fmt.Errorf("open account %s: %w", id, err)
	}
	b.resp.Accounts = append(b.resp.Accounts, toAccountDTO(acct))
	return nil
}

func (b *scenarioBuilder) target(ctx context.Context, t reaction.Target, id string, owner generic.AccountID) error {
	target := generic.Target{
		Ref:       generic.TargetRef{Type: t, ID: id},
		OwnerID:   owner,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.RegisterTarget(ctx, target); err != nil {
		return fmt.Errorf("register target %s: %w", target.Ref, err)
	}
	b.resp.Targets = append(b.resp.Targets, toTargetDTO(target))
	return nil
}

// react applies a toggle and reports whether it was accepted. Client errors
// such as an insufficient balance are expected in generated data.
func (b *scenarioBuilder) react(ctx context.Context, actor generic.AccountID, ref generic.TargetRef, action reaction.Action) (bool, error) {
	if _, err := b.engine.ApplyReaction(ctx, actor, ref, action); err != nil {
		if generic.IsClientError(err) {
			return false, nil
		}
		return false, err
	}
	b.resp.Reactions++
	return true, nil
}

func loadWalkthroughScenario(ctx context.Context, b *scenarioBuilder) error {
	if err := b.account(ctx, "alice", "Alice", 100); err != nil {
		return err
	}
	if err := b.account(ctx, "olivia", "Olivia", 50); err != nil {
		return err
	}
	return b.target(ctx, reaction.TargetPost, "p1", "olivia")
}

func loadLowBalanceScenario(ctx context.Context, b *scenarioBuilder) error {
	if err := b.account(ctx, "bob", "Bob", 35); err != nil {
		return err
	}
	if err := b.account(ctx, "olivia", "Olivia", 50); err != nil {
		return err
	}
	if err := b.target(ctx, reaction.TargetPost, "p1", "olivia"); err != nil {
		return err
	}
	ok, err := b.react(ctx, "bob", generic.TargetRef{Type: reaction.TargetPost, ID: "p1"}, reaction.Dislike)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("seed dislike was rejected")
	}
	return nil
}

func (l *ScenarioLoader) loadCrowdScenario(ctx context.Context, b *scenarioBuilder) error {
	faker := gofakeit.New(l.Seed)
	size := l.CrowdSize
	if size < 2 {
		size = 2
	}

	accounts := make([]generic.AccountID, 0, size)
	for i := 0; i < size; i++ {
		id := generic.AccountID(fmt.Sprintf("%s-%d", faker.Username(), i))
		if err := b.account(ctx, id, faker.Name(), int64(faker.IntRange(20, 300))); err != nil {
			return err
		}
		accounts = append(accounts, id)
	}

	targets := make([]generic.TargetRef, 0, size)
	for i := 0; i < size; i++ {
		t := reaction.AllTargets[faker.IntRange(0, len(reaction.AllTargets)-1)]
		owner := accounts[faker.IntRange(0, len(accounts)-1)]
		id := fmt.Sprintf("%s-%d", faker.Word(), i)
		if err := b.target(ctx, t, id, owner); err != nil {
			return err
		}
		targets = append(targets, generic.TargetRef{Type: t, ID: id})
	}

	for i := 0; i < size*4; i++ {
		actor := accounts[faker.IntRange(0, len(accounts)-1)]
		ref := targets[faker.IntRange(0, len(targets)-1)]
		action := reaction.Like
		if faker.IntRange(0, 2) == 0 {
			action = reaction.Dislike
		}
		if _, err := b.react(ctx, actor, ref, action); err != nil {
			return err
		}
	}
	return nil
}
