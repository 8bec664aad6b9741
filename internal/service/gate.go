// Package service contains the authorization gate guarding connections, rooms and edits.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/authority"
	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/limiter"
	"github.com/tacohub/collab-relay/internal/model"
)

const handshakeScope = "handshake"

// Leeway is the clock skew tolerated on token expiry.
const Leeway = 30 * time.Second

// Gate decides whether a connection, a room entry or an edit may proceed.
type Gate interface {
	// AuthenticateWithIP applies handshake rate limiting and verifies the bearer token.
	AuthenticateWithIP(ctx context.Context, token, ip string) (AuthResult, error)
	// AuthorizeRoomEntry resolves the caller's role in workspaceID, using cache when fresh.
	AuthorizeRoomEntry(ctx context.Context, cache *RoleCache, workspaceID, userID string) (model.Role, error)
	// EnsureRole re-validates the caller's role and requires at least min.
	EnsureRole(ctx context.Context, cache *RoleCache, workspaceID, userID string, min model.Role) (model.Role, error)
	// InvalidateWorkspace forces the next check in workspaceID to re-query the authority.
	InvalidateWorkspace(workspaceID string)
}

// AuthResult is the verified identity of a connection.
type AuthResult struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Claims are the access-token claims issued by the API tier.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type GateImpl struct {
	signKey []byte
	roles   authority.RoleSource
	lim     limiter.Limiter
	roleTTL time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu  sync.Mutex
	gen map[string]uint64
}

var _ Gate = (*GateImpl)(nil)

// NewGate constructs the gate with required dependencies.
func NewGate(signKey []byte, roles authority.RoleSource, lim limiter.Limiter, roleTTL time.Duration, log *zap.Logger) *GateImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &GateImpl{
		signKey: signKey,
		roles:   roles,
		lim:     lim,
		roleTTL: roleTTL,
		log:     log,
		now:     time.Now,
		gen:     make(map[string]uint64),
	}
}

// AuthenticateWithIP authenticates with rate limiting by client ip.
func (g *GateImpl) AuthenticateWithIP(ctx context.Context, token, ip string) (AuthResult, error) {
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := g.lim.Allow(ctx, handshakeScope, ipHash)
	if err != nil {
		// limiter outage must not lock everyone out
		g.log.Warn("limiter allow", zap.Error(err))
	} else if !allowed {
		return AuthResult{}, errs.New(errs.KindAuthentication, errs.CodeRateLimited, "Too many failed attempts", errs.ErrRateLimited).
			WithDetails(map[string]any{"retryAfterSeconds": int(retry.Seconds())})
	}

	res, err := g.Authenticate(token)
	if err != nil {
		if blocked, _, ferr := g.lim.Failure(ctx, handshakeScope, ipHash); ferr == nil && blocked {
			g.log.Warn("handshake locked out", zap.String("ip", ip))
		}
		return AuthResult{}, err
	}

	_ = g.lim.Success(ctx, handshakeScope, ipHash)
	return res, nil
}

// Authenticate verifies an HS256 token. Expired tokens map to ErrExpiredToken,
// everything else to ErrInvalidToken.
func (g *GateImpl) Authenticate(token string) (AuthResult, error) {
	if token == "" {
		return AuthResult{}, fmt.Errorf("token required: %w", errs.ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return g.signKey, nil
	},
		jwt.WithLeeway(Leeway),
		jwt.WithTimeFunc(g.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return AuthResult{}, fmt.Errorf("%w: %w", errs.ErrExpiredToken, err)
	case err != nil:
		return AuthResult{}, fmt.Errorf("%w: %w", errs.ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return AuthResult{}, fmt.Errorf("no subject: %w", errs.ErrInvalidToken)
	}

	res := AuthResult{UserID: userID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

// AuthorizeRoomEntry re-queries the authority when the cached workspace differs, the entry
// is older than the role TTL, or the workspace was invalidated since it was cached.
func (g *GateImpl) AuthorizeRoomEntry(ctx context.Context, cache *RoleCache, workspaceID, userID string) (model.Role, error) {
	gen := g.generation(workspaceID)
	if role, ok := cache.get(workspaceID, gen, g.now(), g.roleTTL); ok {
		return role, nil
	}

	role, ok, err := g.roles.RoleOf(ctx, workspaceID, userID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.log.Warn("role lookup failed",
			zap.String("workspaceId", workspaceID),
			zap.String("userId", userID),
			zap.Error(err),
		)
		return "", errs.New(errs.KindAuthorization, errs.CodeWorkspaceAccessDenied, "Access denied to workspace", errs.ErrWorkspaceAccessDenied).
			WithDetails(map[string]any{"workspaceId": workspaceID, "reason": "role authority unavailable"})
	}
	if !ok {
		cache.clear()
		return "", errs.New(errs.KindAuthorization, errs.CodeWorkspaceAccessDenied, "Access denied to workspace", errs.ErrWorkspaceAccessDenied).
			WithDetails(map[string]any{"workspaceId": workspaceID})
	}

	cache.put(workspaceID, role, gen, g.now())
	return role, nil
}

// EnsureRole re-validates the role for an edit and requires at least min.
func (g *GateImpl) EnsureRole(ctx context.Context, cache *RoleCache, workspaceID, userID string, min model.Role) (model.Role, error) {
	role, err := g.AuthorizeRoomEntry(ctx, cache, workspaceID, userID)
	if err != nil {
		return "", err
	}
	if !role.AtLeast(min) {
		return role, errs.New(errs.KindAuthorization, errs.CodePermissionDenied, "User permissions denied", errs.ErrPermissionDenied).
			WithDetails(map[string]any{"role": string(role), "required": string(min)})
	}
	return role, nil
}

// InvalidateWorkspace bumps the workspace generation so every cached role for it is stale.
func (g *GateImpl) InvalidateWorkspace(workspaceID string) {
	g.mu.Lock()
	g.gen[workspaceID]++
	g.mu.Unlock()
}

func (g *GateImpl) generation(workspaceID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen[workspaceID]
}
