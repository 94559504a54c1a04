// Package auth implements the token-beacon authentication state machine: the
// rate limiter gate, token validation with a TTL cache, server auto
// registration, and the source cache that later log lines resolve against.
package auth

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/logging"
	"github.com/hlstatsnext/ingress/internal/models"
	"github.com/hlstatsnext/ingress/internal/ratelimit"
	"github.com/hlstatsnext/ingress/internal/token"
)

var (
	beaconsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_beacons_accepted_total",
		Help: "Total number of successfully authenticated beacons",
	})

	beaconsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlx_beacons_rejected_total",
		Help: "Total number of rejected beacons by reason",
	}, []string{"reason"})

	serversAutoRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_servers_auto_registered_total",
		Help: "Total number of servers auto-registered from beacons",
	})
)

// Reason enumerates why a beacon was refused.
type Reason string

const (
	ReasonRateLimited   Reason = "rate_limited"
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonNotFound      Reason = "not_found"
	ReasonRevoked       Reason = "revoked"
	ReasonExpired       Reason = "expired"
)

// Outcome discriminates HandleBeacon results.
type Outcome int

const (
	OutcomeUnauthorized Outcome = iota
	OutcomeAuthenticated
	OutcomeAutoRegistered
)

// BeaconResult is the discriminated result of HandleBeacon.
type BeaconResult struct {
	Outcome  Outcome
	ServerID int64
	TokenID  int64
	Reason   Reason
}

// tokenFormat is the canonical shape of a raw beacon token.
var tokenFormat = regexp.MustCompile(`^hlxn_[A-Za-z0-9_-]{16,64}$`)

// TokenRepository is the credential store consulted on token-cache misses.
type TokenRepository interface {
	FindByHash(ctx context.Context, hash string) (token.Result, error)
	UpdateLastUsed(ctx context.Context, id int64)
}

// ServerRegistry resolves (tokenID, gamePort) to a server row, rewriting the
// address in place on IP churn and auto-registering unknown pairs inside one
// transaction together with the config defaults.
type ServerRegistry interface {
	Resolve(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (server *models.Server, created bool, err error)
}

type tokenCacheEntry struct {
	token    *models.ServerToken
	cachedAt time.Time
}

type sourceCacheEntry struct {
	serverID int64
	tokenID  int64
	cachedAt time.Time
}

// Config wires an Authenticator.
type Config struct {
	Repo           TokenRepository
	Registry       ServerRegistry
	Limiter        *ratelimit.Limiter
	Publisher      events.Publisher
	IDs            events.IDService
	Logger         *zap.Logger
	TokenCacheTTL  time.Duration
	SourceCacheTTL time.Duration
	RepoTimeout    time.Duration
	LogCooldown    time.Duration
}

// Authenticator owns the token cache, the source cache, and the rate limiter.
type Authenticator struct {
	repo        TokenRepository
	registry    ServerRegistry
	limiter     *ratelimit.Limiter
	publisher   events.Publisher
	ids         events.IDService
	logger      *zap.SugaredLogger
	warnGate    *logging.Cooldown
	tokenTTL    time.Duration
	sourceTTL   time.Duration
	repoTimeout time.Duration

	mu          sync.Mutex
	tokenCache  map[string]tokenCacheEntry
	sourceCache map[string]sourceCacheEntry
	now         func() time.Time
}

func New(cfg Config) *Authenticator {
	return &Authenticator{
		repo:        cfg.Repo,
		registry:    cfg.Registry,
		limiter:     cfg.Limiter,
		publisher:   cfg.Publisher,
		ids:         cfg.IDs,
		logger:      cfg.Logger.Sugar(),
		warnGate:    logging.NewCooldown(cfg.LogCooldown),
		tokenTTL:    cfg.TokenCacheTTL,
		sourceTTL:   cfg.SourceCacheTTL,
		repoTimeout: cfg.RepoTimeout,
		tokenCache:  make(map[string]tokenCacheEntry),
		sourceCache: make(map[string]sourceCacheEntry),
		now:         time.Now,
	}
}

func sourceKey(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}

// reject records a failure; the attempt that trips the block is itself
// reported as rate_limited.
func (a *Authenticator) reject(sourceAddr string, reason Reason) BeaconResult {
	if a.limiter.RecordFailure(sourceAddr) {
		reason = ReasonRateLimited
	}
	beaconsRejected.WithLabelValues(string(reason)).Inc()
	return BeaconResult{Outcome: OutcomeUnauthorized, Reason: reason}
}

// HandleBeacon validates a beacon and, on success, binds its UDP source to
// the resolved server. Each step short-circuits on non-success.
func (a *Authenticator) HandleBeacon(ctx context.Context, rawToken string, gamePort int, sourceAddr string, sourcePort int) BeaconResult {
	if a.limiter.IsBlocked(sourceAddr) {
		beaconsRejected.WithLabelValues(string(ReasonRateLimited)).Inc()
		a.logger.Debugw("Beacon from blocked source", "source", sourceAddr)
		return BeaconResult{Outcome: OutcomeUnauthorized, Reason: ReasonRateLimited}
	}

	if !tokenFormat.MatchString(rawToken) {
		if a.warnGate.Allow("format:" + sourceAddr) {
			a.logger.Warnw("Beacon token has invalid format", "source", sourceAddr)
		}
		return a.reject(sourceAddr, ReasonInvalidFormat)
	}

	tok, reason := a.validateToken(ctx, rawToken)
	if tok == nil {
		if a.warnGate.Allow("token:" + sourceAddr) {
			a.logger.Warnw("Beacon token rejected", "source", sourceAddr, "reason", reason)
		}
		return a.reject(sourceAddr, reason)
	}

	repoCtx, cancel := context.WithTimeout(ctx, a.repoTimeout)
	defer cancel()

	a.repo.UpdateLastUsed(repoCtx, tok.ID)

	server, created, err := a.registry.Resolve(repoCtx, tok, gamePort, sourceAddr)
	if err != nil {
		a.logger.Errorw("Server resolution failed", "source", sourceAddr, "tokenId", tok.ID, "error", err)
		return BeaconResult{Outcome: OutcomeUnauthorized, Reason: ReasonNotFound}
	}

	a.mu.Lock()
	a.sourceCache[sourceKey(sourceAddr, sourcePort)] = sourceCacheEntry{
		serverID: server.ID,
		tokenID:  tok.ID,
		cachedAt: a.now(),
	}
	a.mu.Unlock()

	beaconsAccepted.Inc()
	if created {
		serversAutoRegistered.Inc()
		a.logger.Infow("Auto-registered server",
			"serverId", server.ID, "address", sourceAddr, "port", gamePort, "game", tok.Game)
	}

	a.emitAuthenticated(ctx, server, tok, created)

	if created {
		return BeaconResult{Outcome: OutcomeAutoRegistered, ServerID: server.ID, TokenID: tok.ID}
	}
	return BeaconResult{Outcome: OutcomeAuthenticated, ServerID: server.ID, TokenID: tok.ID}
}

// validateToken checks the cache first, re-evaluating revocation and expiry
// on every hit so a revoked credential dies within one beacon, not one TTL.
func (a *Authenticator) validateToken(ctx context.Context, rawToken string) (*models.ServerToken, Reason) {
	hash := token.HashToken(rawToken)
	now := a.now()

	a.mu.Lock()
	if e, ok := a.tokenCache[hash]; ok {
		if now.Sub(e.cachedAt) >= a.tokenTTL {
			delete(a.tokenCache, hash)
		} else {
			tok := e.token
			a.mu.Unlock()
			if tok.Revoked() {
				return nil, ReasonRevoked
			}
			if tok.Expired(now) {
				return nil, ReasonExpired
			}
			return tok, ""
		}
	}
	a.mu.Unlock()

	repoCtx, cancel := context.WithTimeout(ctx, a.repoTimeout)
	defer cancel()

	res, err := a.repo.FindByHash(repoCtx, hash)
	if err != nil {
		a.logger.Errorw("Token lookup failed", "error", err)
		return nil, ReasonNotFound
	}

	switch res.Status {
	case token.StatusValid:
		a.mu.Lock()
		a.tokenCache[hash] = tokenCacheEntry{token: res.Token, cachedAt: now}
		a.mu.Unlock()
		return res.Token, ""
	case token.StatusRevoked:
		return nil, ReasonRevoked
	case token.StatusExpired:
		return nil, ReasonExpired
	default:
		return nil, ReasonNotFound
	}
}

func (a *Authenticator) emitAuthenticated(ctx context.Context, server *models.Server, tok *models.ServerToken, created bool) {
	ev := &models.ParsedEvent{
		EventID:       a.ids.EventID(),
		CorrelationID: a.ids.CorrelationID(),
		EventType:     models.EventServerAuth,
		ServerID:      server.ID,
		Timestamp:     a.now(),
		Data: models.ServerAuthData{
			TokenID:        tok.ID,
			Address:        server.Address,
			Port:           server.Port,
			Game:           server.Game,
			AutoRegistered: created,
		},
	}
	if err := a.publisher.Publish(ctx, ev); err != nil {
		a.logger.Warnw("Failed to publish server-authenticated event",
			"serverId", server.ID, "error", err)
	}
}

// LookupSource resolves an authenticated UDP source to its serverId. Expired
// entries are pruned lazily.
func (a *Authenticator) LookupSource(sourceAddr string, sourcePort int) (int64, bool) {
	key := sourceKey(sourceAddr, sourcePort)

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.sourceCache[key]
	if !ok {
		return 0, false
	}
	if a.now().Sub(e.cachedAt) >= a.sourceTTL {
		delete(a.sourceCache, key)
		return 0, false
	}
	return e.serverID, true
}

// AuthenticatedServerIDs returns the serverIds with a live source binding,
// pruning expired entries.
func (a *Authenticator) AuthenticatedServerIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	seen := make(map[int64]bool)
	var ids []int64
	for key, e := range a.sourceCache {
		if now.Sub(e.cachedAt) >= a.sourceTTL {
			delete(a.sourceCache, key)
			continue
		}
		if !seen[e.serverID] {
			seen[e.serverID] = true
			ids = append(ids, e.serverID)
		}
	}
	return ids
}

// WarnNoSession logs the "log line without beacon" warning, throttled per
// source address.
func (a *Authenticator) WarnNoSession(sourceAddr string, sourcePort int) {
	if a.warnGate.Allow("nosession:" + sourceAddr) {
		a.logger.Warnw("Log line from unauthenticated source, dropping",
			"source", sourceKey(sourceAddr, sourcePort))
	}
}
