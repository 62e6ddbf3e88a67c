// Package auth resolves a bearer token to the calling agent and the
// brokerage they act for. Tokens are issued by the main application; this
// service only reads the session table.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrUnauthorized is returned for a missing, unknown, expired or revoked token.
var ErrUnauthorized = errors.New("invalid or missing bearer token")

// Principal is the verified caller.
type Principal struct {
	AgentID     string `json:"agentId"`
	BrokerageID string `json:"brokerageId"` // empty when the agent has no brokerage
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// SessionStore looks a hashed token up in the application's session table.
type SessionStore interface {
	LookupSession(ctx context.Context, tokenHash string) (*Principal, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HashToken returns the hex sha256 of a token, the form stored in
// agent_sessions.token_hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionVerifier verifies tokens against a SessionStore and caches
// principals in Redis for ttl. A revoked session can therefore stay valid
// for up to ttl.
type SessionVerifier struct {
	store  SessionStore
	rdb    *redis.Client // nil disables caching
	ttl    time.Duration
	logger *slog.Logger
}

// NewSessionVerifier constructs a SessionVerifier.
func NewSessionVerifier(store SessionStore, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *SessionVerifier {
	return &SessionVerifier{store: store, rdb: rdb, ttl: ttl, logger: logger}
}

// Verify implements Verifier.
func (v *SessionVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	hash := HashToken(token)

	if p, ok := v.cached(ctx, hash); ok {
		return p, nil
	}

	p, err := v.store.LookupSession(ctx, hash)
	if err != nil {
		return nil, err
	}

	if v.rdb != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := v.rdb.Set(ctx, cacheKey(hash), raw, v.ttl).Err(); err != nil {
				v.logger.Warn("cache principal failed", "err", err)
			}
		}
	}
	return p, nil
}

func (v *SessionVerifier) cached(ctx context.Context, hash string) (*Principal, bool) {
	if v.rdb == nil {
		return nil, false
	}
	raw, err := v.rdb.Get(ctx, cacheKey(hash)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			v.logger.Warn("principal cache read failed", "err", err)
		}
		return nil, false
	}
	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil || p.AgentID == "" {
		return nil, false
	}
	return &p, true
}

func cacheKey(hash string) string { return "auth:principal:" + hash }

// PostgresSessionStore reads agent_sessions joined with agents.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore returns a store backed by pool.
func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// LookupSession implements SessionStore.
func (s *PostgresSessionStore) LookupSession(ctx context.Context, tokenHash string) (*Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx,
		`SELECT s.agent_id::text, COALESCE(a.brokerage_id::text, '')
		 FROM agent_sessions s
		 JOIN agents a ON a.id = s.agent_id
		 WHERE s.token_hash = $1
		   AND s.revoked_at IS NULL
		   AND (s.expires_at IS NULL OR s.expires_at > NOW())`,
		tokenHash,
	).Scan(&p.AgentID, &p.BrokerageID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return &p, nil
}
