// Package match scores active listings against a client's budget and
// preferred locations and keeps the client's queue of "new"
// recommendations topped up without ever re-surfacing a listing.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"hayvn/listing-pipeline/internal/auth"
	"hayvn/listing-pipeline/internal/events"
	"hayvn/listing-pipeline/internal/model"
)

// Request bounds.
const (
	DefaultTargetNew = 5
	MinTargetNew     = 1
	MaxTargetNew     = 25
	DefaultLimit     = 50
	MinLimit         = 5
	MaxLimit         = 200
)

// ErrClientNotFound is returned when the client id does not exist.
var ErrClientNotFound = errors.New("client not found")

// ErrForbidden is returned when the caller may not act for the client.
var ErrForbidden = errors.New("caller may not act for this client")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// Store is everything the engine reads and writes.
type Store interface {
	CandidateFinder
	LoadClient(ctx context.Context, clientID string) (*model.Client, error)
	RecommendationHistory(ctx context.Context, clientID string) (map[string]string, error)
	InsertRecommendations(ctx context.Context, recs []model.Recommendation) ([]string, error)
}

// Request asks for the client's queue to be topped up. Zero values take
// the defaults; others are clamped into range.
type Request struct {
	ClientID  string `json:"client_id"`
	Limit     int    `json:"limit,omitempty"`
	TargetNew int    `json:"target_new,omitempty"`
}

func (r Request) normalized() Request {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.Limit = clamp(r.Limit, DefaultLimit, MinLimit, MaxLimit)
	r.TargetNew = clamp(r.TargetNew, DefaultTargetNew, MinTargetNew, MaxTargetNew)
	return r
}

func clamp(v, def, lo, hi int) int {
	switch {
	case v == 0:
		return def
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// Pick is one recommendation written by this call.
type Pick struct {
	ListingID  string   `json:"listing_id"`
	MLSNumber  string   `json:"mls_number"`
	Address    *string  `json:"address"`
	City       *string  `json:"city"`
	PostalCode *string  `json:"postal_code"`
	ListPrice  *float64 `json:"list_price"`
	Beds       *float64 `json:"beds"`
	Baths      *float64 `json:"baths"`
	Sqft       *float64 `json:"sqft"`
	Status     *string  `json:"status"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
}

// Result carries the picks plus diagnostics about how they were found.
type Result struct {
	OK                     bool     `json:"ok"`
	ModeUsed               string   `json:"mode_used"`
	WidenUsed              *float64 `json:"widen_used"`
	CandidatesScored       int      `json:"candidates_scored"`
	RecommendationsWritten int      `json:"recommendations_written"`
	ExistingNewCount       int      `json:"existing_new_count"`
	TargetNew              int      `json:"target_new"`
	NeededNew              int      `json:"needed_new"`
	NewQueueAfter          int      `json:"new_queue_after"`
	Picks                  []Pick   `json:"picks"`
}

// Engine runs the match path.
type Engine struct {
	store     Store
	retriever *Retriever
	scorer    *Scorer
	weights   model.ScoringWeights
	events    events.Publisher
	logger    *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(store Store, weights model.ScoringWeights, pub events.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		retriever: NewRetriever(store, weights),
		scorer:    NewScorer(weights),
		weights:   weights,
		events:    pub,
		logger:    logger,
	}
}

// Recommend ensures the client has at least req.TargetNew recommendations in
// status "new", writing only the missing ones. Listings the client has ever
// been recommended, in any status, are never offered again.
func (e *Engine) Recommend(ctx context.Context, p auth.Principal, req Request) (*Result, error) {
	req = req.normalized()
	if req.ClientID == "" {
		return nil, &ValidationError{Msg: "client_id is required"}
	}

	client, err := e.authorize(ctx, p, req.ClientID)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("clientId", client.ID, "agentId", p.AgentID)

	history, err := e.store.RecommendationHistory(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	existingNew := 0
	seen := make([]string, 0, len(history))
	for listingID, raw := range history {
		seen = append(seen, listingID)
		st, err := model.ParseRecommendationStatus(raw)
		if err != nil {
			log.Warn("unknown recommendation status", "listingId", listingID, "err", err)
			continue
		}
		if model.IsQueued(st) {
			existingNew++
		}
	}
	sort.Strings(seen)

	res := &Result{
		OK:               true,
		ExistingNewCount: existingNew,
		TargetNew:        req.TargetNew,
		NewQueueAfter:    existingNew,
		Picks:            []Pick{},
	}
	if existingNew >= req.TargetNew {
		res.ModeUsed = ModeNoop
		log.Info("queue already full", "existingNew", existingNew, "targetNew", req.TargetNew)
		return res, nil
	}
	res.NeededNew = req.TargetNew - existingNew

	locs := ParseLocations(client.PreferredLocations)
	pool, err := e.retriever.Retrieve(ctx, *client, locs, req.Limit, seen)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	res.ModeUsed, res.WidenUsed = pool.Mode, pool.Widen

	scored := make([]Scored, 0, len(pool.Candidates))
	for _, l := range pool.Candidates {
		scored = append(scored, e.scorer.Score(l, *client, locs))
	}
	res.CandidatesScored = len(scored)

	picks := e.selectPicks(scored, *client, locs, history, res.NeededNew)
	if len(picks) == 0 {
		log.Info("no new candidates", "mode", res.ModeUsed, "scored", res.CandidatesScored)
		return res, nil
	}

	recs := make([]model.Recommendation, 0, len(picks))
	for _, s := range picks {
		recs = append(recs, model.Recommendation{
			ClientID:    client.ID,
			ListingID:   s.Listing.ID,
			BrokerageID: client.BrokerageID,
			Score:       s.Score,
			Reasons:     s.Reasons,
			Status:      model.RecommendationNew,
		})
	}

	inserted, err := e.store.InsertRecommendations(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("insert recommendations: %w", err)
	}
	written := make(map[string]bool, len(inserted))
	for _, id := range inserted {
		written[id] = true
	}
	for _, s := range picks {
		if written[s.Listing.ID] {
			res.Picks = append(res.Picks, toPick(s))
		}
	}
	res.RecommendationsWritten = len(res.Picks)
	res.NewQueueAfter = existingNew + res.RecommendationsWritten

	if res.RecommendationsWritten > 0 {
		if err := e.events.Publish(ctx, events.RecommendationsCreated, map[string]any{
			"clientId":    client.ID,
			"agentId":     client.AgentID,
			"brokerageId": client.BrokerageID,
			"count":       res.RecommendationsWritten,
		}); err != nil {
			log.Warn("publish recommendations created failed", "err", err)
		}
	}

	log.Info("recommendations written",
		"mode", res.ModeUsed, "scored", res.CandidatesScored,
		"written", res.RecommendationsWritten, "queue", res.NewQueueAfter)
	return res, nil
}

// authorize loads the client and checks the caller owns it or shares its
// brokerage.
func (e *Engine) authorize(ctx context.Context, p auth.Principal, clientID string) (*model.Client, error) {
	if p.BrokerageID == "" {
		return nil, ErrForbidden
	}
	client, err := e.store.LoadClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.AgentID != p.AgentID && client.BrokerageID != p.BrokerageID {
		return nil, ErrForbidden
	}
	return client, nil
}

// selectPicks drops anything already recommended, then fills up to n
// from the candidates that clear the threshold, best first, and tops up
// from the rest when too few do.
func (e *Engine) selectPicks(scored []Scored, c model.Client, locs Locations, history map[string]string, n int) []Scored {
	minScore := e.weights.Threshold(hasBudget(c), locs.HasAny())

	var qualified, rest []Scored
	for _, s := range scored {
		if _, seen := history[s.Listing.ID]; seen {
			continue
		}
		if s.Score >= minScore {
			qualified = append(qualified, s)
		} else {
			rest = append(rest, s)
		}
	}

	byRank := func(xs []Scored) {
		sort.SliceStable(xs, func(i, j int) bool { return ranksBefore(xs[i], xs[j]) })
	}
	byRank(qualified)
	byRank(rest)

	picks := append(qualified, rest...)
	if len(picks) > n {
		picks = picks[:n]
	}
	return picks
}

// ranksBefore orders by score desc, then last_seen_at desc (unknown last),
// then listing id.
func ranksBefore(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	at, bt := a.Listing.LastSeenAt, b.Listing.LastSeenAt
	switch {
	case at != nil && bt == nil:
		return true
	case at == nil && bt != nil:
		return false
	case at != nil && bt != nil && !at.Equal(*bt):
		return at.After(*bt)
	}
	return a.Listing.ID < b.Listing.ID
}

func toPick(s Scored) Pick {
	l := s.Listing
	return Pick{
		ListingID:  l.ID,
		MLSNumber:  l.MLSNumber,
		Address:    l.Address,
		City:       l.City,
		PostalCode: l.PostalCode,
		ListPrice:  l.ListPrice,
		Beds:       l.Beds,
		Baths:      l.Baths,
		Sqft:       l.Sqft,
		Status:     l.Status,
		Score:      s.Score,
		Reasons:    s.Reasons,
	}
}
