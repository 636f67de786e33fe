package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/logger"
)

// DevAccountHeader names the caller directly when dev mode is on.
const DevAccountHeader = "X-Account-ID"

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidToken       = errors.New("invalid token")
	errAdminDisabled      = errors.New("admin routes are disabled")
	errNotAdmin           = errors.New("account is not an admin")
)

type actorKey struct{}

// ActorResolver turns a request into the acting account: a Bearer JWT
// signed with HS256 whose "sub" is the account ID, or the dev header.
type ActorResolver struct {
	secret    []byte
	devHeader bool
}

func NewActorResolver(secret string, devHeader bool) *ActorResolver {
	return &ActorResolver{secret: []byte(secret), devHeader: devHeader}
}

// Resolve returns the acting account for r.
func (a *ActorResolver) Resolve(r *http.Request) (generic.AccountID, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || len(a.secret) == 0 {
			return "", errInvalidToken
		}
		return a.validate(raw)
	}
	if a.devHeader {
		if id := strings.TrimSpace(r.Header.Get(DevAccountHeader)); id != "" {
			return generic.AccountID(id), nil
		}
	}
	return "", errMissingCredentials
}

func (a *ActorResolver) validate(raw string) (generic.AccountID, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return generic.AccountID(sub), nil
}

// Middleware rejects unauthenticated requests with 401 and stores the actor
// in the request context.
func (a *ActorResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Resolve(r)
		if err != nil {
			logger.Log.Debug("unauthenticated request",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(ctx context.Context) (generic.AccountID, bool) {
	actor, ok := ctx.Value(actorKey{}).(generic.AccountID)
	return actor, ok
}

// AdminGuard restricts routes that create points or reset data to a fixed
// set of accounts. It must run after ActorResolver.Middleware.
type AdminGuard struct {
	enabled  bool
	accounts map[generic.AccountID]struct{}
}

func NewAdminGuard(enabled bool, accounts ...string) *AdminGuard {
	g := &AdminGuard{enabled: enabled, accounts: make(map[generic.AccountID]struct{}, len(accounts))}
	for _, id := range accounts {
		g.accounts[generic.AccountID(id)] = struct{}{}
	}
	return g
}

// Allow reports whether actor may use admin routes.
func (g *AdminGuard) Allow(actor generic.AccountID) error {
	if !g.enabled {
		return errAdminDisabled
	}
	if _, ok := g.accounts[actor]; !ok {
		return fmt.Errorf("%w: %s", errNotAdmin, actor)
	}
	return nil
}

// Middleware answers 403 unless the authenticated actor is an admin.
func (g *AdminGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		if err := g.Allow(actor); err != nil {
			logger.Warn("admin route refused",
				zap.String("path", r.URL.Path),
				zap.String("actor", string(actor)),
				zap.Error(err),
			)
			writeError(w, http.StatusForbidden, "Forbidden", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs a token for account valid for ttl.
func IssueToken(secret string, account generic.AccountID, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(account),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
