/*
handlers_test.go - HTTP tests for the reaction API

Tests for:
- The like/unlike/dislike/switch walkthrough over HTTP
- Error mapping (401, 400, 403, 404, 409)
- Actor resolution via JWT and the dev header
- Accounts, targets, journals and policies endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/generic/store"
	"github.com/nuxni/reaction-engine/reaction"
)

const (
	testSecret = "test-secret"
	adminID    = "1"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	store   *store.Memory
	handler *Handler
	router  *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	engine := reaction.NewEngine(mem, reaction.Config{PlatformAccount: "1"})
	h := NewHandler(mem, engine)
	return &testServer{
		store:   mem,
		handler: h,
		router:  NewRouter(h, NewActorResolver(testSecret, true), NewAdminGuard(true, adminID)),
	}
}

// loaded returns a server with a scenario already loaded.
func loaded(t *testing.T, scenario string) *testServer {
	t.Helper()
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", adminID, map[string]string{"scenario_id": scenario})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return s
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(DevAccountHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) react(t *testing.T, actor, action, target string) (*httptest.ResponseRecorder, ReactionResponse) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/targets/"+target+"/"+action, actor, nil)
	var resp ReactionResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (s *testServer) balance(t *testing.T, id string) int64 {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/accounts/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acct AccountDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	return acct.Balance
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// REACTIONS
// =============================================================================

func TestReact_Walkthrough(t *testing.T) {
	// GIVEN: alice 100, olivia 50, platform 1000, post p1 owned by olivia
	// WHEN: alice likes, unlikes, dislikes, then switches to like
	// THEN: Every step moves points per the transition table

	s := loaded(t, "walkthrough")

	steps := []struct {
		action                 string
		likes, dislikes        int64
		state                  string
		actor, owner, platform int64
		transition             string
	}{
		{"like", 1, 0, "liked", 76, 62, 1012, "like"},
		{"like", 0, 0, "none", 64, 62, 1024, "unlike"},
		{"dislike", 0, 1, "disliked", 52, 50, 1048, "dislike"},
		{"like", 1, 0, "liked", 28, 62, 1060, "dislike_to_like"},
	}

	for _, step := range steps {
		rec, resp := s.react(t, "alice", step.action, "post/p1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.True(t, resp.Success)
		assert.Equal(t, step.likes, resp.Likes, step.transition)
		assert.Equal(t, step.dislikes, resp.Dislikes, step.transition)
		assert.Equal(t, step.state, resp.State, step.transition)
		assert.Equal(t, step.actor, resp.Balance, step.transition)
		assert.Equal(t, step.transition, resp.Transition)
		assert.Equal(t, step.owner, s.balance(t, "olivia"), step.transition)
		assert.Equal(t, step.platform, s.balance(t, "1"), step.transition)
	}

	rec := s.do(t, http.MethodGet, "/api/targets/post/p1/reaction", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state ReactionStateDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "liked", state.State)
	assert.Equal(t, "post/p1", state.Target)
}

func TestReact_InsufficientBalance(t *testing.T) {
	// GIVEN: bob disliked p1 and holds 23 points
	// WHEN: bob switches to like (24 required)
	// THEN: 403 and nothing changes

	s := loaded(t, "low-balance")

	rec, _ := s.react(t, "bob", "like", "post/p1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient balance", decodeError(t, rec).Error)

	assert.Equal(t, int64(23), s.balance(t, "bob"))
	rec = s.do(t, http.MethodGet, "/api/targets/post/p1", "", nil)
	var target TargetDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &target))
	assert.Equal(t, int64(0), target.Likes)
	assert.Equal(t, int64(1), target.Dislikes)

	// Undislike only needs 12
	rec, resp := s.react(t, "bob", "dislike", "post/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(11), resp.Balance)
	assert.Equal(t, "none", resp.State)
}

func TestReact_Errors(t *testing.T) {
	s := loaded(t, "walkthrough")

	tests := []struct {
		name   string
		actor  string
		path   string
		status int
	}{
		{"no credentials", "", "/api/targets/post/p1/like", http.StatusUnauthorized},
		{"unknown target type", "alice", "/api/targets/video/p1/like", http.StatusBadRequest},
		{"unknown target", "alice", "/api/targets/post/missing/like", http.StatusNotFound},
		{"unknown actor", "nobody", "/api/targets/post/p1/like", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.actor, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeError(t, rec).Details)
		})
	}

	assert.Equal(t, int64(100), s.balance(t, "alice"))
}

func TestReact_SelfReactionOnShare(t *testing.T) {
	// GIVEN: olivia owns a share and a post
	// WHEN: She likes both
	// THEN: The share is forbidden, her own post is allowed

	s := loaded(t, "walkthrough")
	rec := s.do(t, http.MethodPost, "/api/targets", "olivia", CreateTargetRequest{Type: "share", ID: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = s.react(t, "olivia", "like", "share/s1")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := s.react(t, "olivia", "like", "post/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	// -24 as actor, +12 as owner
	assert.Equal(t, int64(38), resp.Balance)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_JWT(t *testing.T) {
	s := loaded(t, "walkthrough")

	token, err := IssueToken(testSecret, "alice", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/targets/post/p1/like", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(76), s.balance(t, "alice"))

	forged, err := IssueToken("other-secret", "alice", time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"wrong secret": "Bearer " + forged,
		"expired":      "Bearer " + expired,
		"not bearer":   "Basic " + token,
		"garbage":      "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/targets/post/p1/like", nil)
			req.Header.Set("Authorization", header)
			// The dev header never overrides a bad token
			req.Header.Set(DevAccountHeader, "alice")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_DevHeaderDisabled(t *testing.T) {
	resolver := NewActorResolver(testSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevAccountHeader, "alice")

	_, err := resolver.Resolve(req)
	assert.ErrorIs(t, err, errMissingCredentials)

	_, err = IssueToken("", "alice", time.Minute)
	assert.Error(t, err)
}

// =============================================================================
// ACCOUNTS AND TARGETS
// =============================================================================

func TestAccounts(t *testing.T) {
	s := loaded(t, "walkthrough")

	rec := s.do(t, http.MethodPost, "/api/accounts", adminID, CreateAccountRequest{ID: "carol", Name: "Carol", Balance: 40})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(40), s.balance(t, "carol"))

	rec = s.do(t, http.MethodPost, "/api/accounts", adminID, CreateAccountRequest{ID: "carol", Balance: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", adminID, CreateAccountRequest{ID: "dave", Balance: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/accounts", adminID, CreateAccountRequest{Balance: 5})
	require.Equal(t, http.StatusCreated, rec.Code)
	var generated AccountDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generated))
	assert.NotEmpty(t, generated.ID)

	rec = s.do(t, http.MethodGet, "/api/accounts/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []AccountDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	// platform, alice, olivia, carol, generated
	assert.Len(t, all, 5)
}

func TestAccountEntries(t *testing.T) {
	// GIVEN: alice liked then unliked
	// WHEN: Her journal is read
	// THEN: It replays to her balance and honours the limit

	s := loaded(t, "walkthrough")
	s.react(t, "alice", "like", "post/p1")
	s.react(t, "alice", "like", "post/p1")

	rec := s.do(t, http.MethodGet, "/api/accounts/alice/entries?limit=0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EntriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Entries, 3)
	assert.Equal(t, "opening", resp.Entries[0].Kind)
	var sum int64
	for _, e := range resp.Entries {
		sum += e.Delta
	}
	assert.Equal(t, resp.Balance, sum)
	assert.Equal(t, int64(64), resp.Balance)

	rec = s.do(t, http.MethodGet, "/api/accounts/alice/entries?limit=1", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "unlike", resp.Entries[0].Transition)
	assert.Equal(t, "post/p1", resp.Entries[0].Target)

	rec = s.do(t, http.MethodGet, "/api/accounts/alice/entries?limit=-3", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/accounts/ghost/entries", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTarget(t *testing.T) {
	s := loaded(t, "walkthrough")

	tests := []struct {
		name   string
		actor  string
		req    CreateTargetRequest
		status int
	}{
		{"own lesson", "olivia", CreateTargetRequest{Type: "lesson", ID: "l1"}, http.StatusCreated},
		{"admin for someone else", adminID, CreateTargetRequest{Type: "post", ID: "p4", OwnerID: "alice"}, http.StatusCreated},
		{"someone else's", "alice", CreateTargetRequest{Type: "post", ID: "p5", OwnerID: "olivia"}, http.StatusForbidden},
		{"anonymous", "", CreateTargetRequest{Type: "post", ID: "p6", OwnerID: "olivia"}, http.StatusUnauthorized},
		{"duplicate", "olivia", CreateTargetRequest{Type: "post", ID: "p1"}, http.StatusConflict},
		{"unknown owner", adminID, CreateTargetRequest{Type: "post", ID: "p2", OwnerID: "ghost"}, http.StatusNotFound},
		{"unknown type", "olivia", CreateTargetRequest{Type: "video", ID: "v1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/targets", tt.actor, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/api/targets", "", nil)
	var targets []TargetDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	assert.Len(t, targets, 3)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicies(t *testing.T) {
	// GIVEN: Shares forbid self reactions by default
	// WHEN: The share policy is replaced to allow them
	// THEN: The owner can like their own share, and the override is stored

	s := loaded(t, "walkthrough")
	rec := s.do(t, http.MethodPost, "/api/targets", "olivia", CreateTargetRequest{Type: "share", ID: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/policies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var policies []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policies))
	assert.Len(t, policies, len(reaction.AllTargets))

	rec = s.do(t, http.MethodPut, "/api/policies/share", adminID, map[string]any{"self_reaction": "allow"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = s.react(t, "olivia", "like", "share/s1")
	assert.Equal(t, http.StatusOK, rec.Code)

	stored, err := s.store.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "share", stored[0].TargetType)

	rec = s.do(t, http.MethodPut, "/api/policies/share", adminID, map[string]any{"target_type": "post"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/policies/video", adminID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/policies/post", adminID, map[string]any{
		"costs": map[string]any{"like": map[string]int{"actor": 5, "owner": 0, "platform": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A leg paying out more than the actor pays would mint points
	rec = s.do(t, http.MethodPut, "/api/policies/post", adminID, map[string]any{
		"costs": map[string]any{"like": map[string]int{"actor": 0, "owner": 1000000, "platform": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ownerBefore := s.balance(t, "olivia")
	rec, resp := s.react(t, "alice", "like", "post/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(76), resp.Balance)
	assert.Equal(t, ownerBefore+12, s.balance(t, "olivia"))
}

func TestAdminRoutes(t *testing.T) {
	// GIVEN: The walkthrough and the admin routes
	// WHEN: They are called anonymously, by a regular account, or with the
	//       guard disabled
	// THEN: 401 / 403 and no balance, policy or scenario changes

	routes := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/accounts", CreateAccountRequest{ID: "mallory", Balance: 1000000}},
		{http.MethodPut, "/api/policies/post", map[string]any{"self_reaction": "forbid"}},
		{http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "low-balance"}},
		{http.MethodPost, "/api/audit/run", nil},
	}

	s := loaded(t, "walkthrough")
	for _, rt := range routes {
		t.Run("anonymous "+rt.path, func(t *testing.T) {
			rec := s.do(t, rt.method, rt.path, "", rt.body)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
		t.Run("non-admin "+rt.path, func(t *testing.T) {
			rec := s.do(t, rt.method, rt.path, "alice", rt.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	disabled := loaded(t, "walkthrough")
	disabled.router = NewRouter(disabled.handler, NewActorResolver(testSecret, true), NewAdminGuard(false, adminID))
	for _, rt := range routes {
		t.Run("disabled "+rt.path, func(t *testing.T) {
			rec := disabled.do(t, rt.method, rt.path, adminID, rt.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	for _, srv := range []*testServer{s, disabled} {
		rec := srv.do(t, http.MethodGet, "/api/accounts/mallory", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, int64(100), srv.balance(t, "alice"))

		runs, err := srv.store.AuditRuns(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
		stored, err := srv.store.ListPolicies(context.Background())
		require.NoError(t, err)
		assert.Empty(t, stored)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, s.store.OpenAccount(context.Background(), generic.Account{ID: "1", Balance: generic.Points(0)}))
	rec = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// unreachable is a backend whose database is down.
type unreachable struct{ *store.Memory }

func (unreachable) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz_StoreUnreachable(t *testing.T) {
	// GIVEN: A platform account, but a datastore that does not answer pings
	mem := store.NewMemory()
	require.NoError(t, mem.OpenAccount(context.Background(), generic.Account{ID: "1", Balance: generic.Points(0)}))
	backend := unreachable{mem}
	h := NewHandler(backend, reaction.NewEngine(backend, reaction.Config{PlatformAccount: "1"}))
	router := NewRouter(h, NewActorResolver(testSecret, true), NewAdminGuard(true, adminID))

	// WHEN: Checking health
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// THEN: 503 naming the store
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeError(t, rec).Details, "store unreachable")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&generic.InsufficientBalanceError{AccountID: "a"}, http.StatusForbidden},
		{generic.ErrSelfReaction, http.StatusForbidden},
		{&generic.TargetNotFoundError{}, http.StatusNotFound},
		{generic.ErrAccountNotFound, http.StatusNotFound},
		{generic.ErrInvalidReaction, http.StatusBadRequest},
		{generic.ErrUnknownTargetType, http.StatusBadRequest},
		{generic.ErrDuplicateTarget, http.StatusConflict},
		{generic.ErrConcurrencyConflict, http.StatusConflict},
		{context.Canceled, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
