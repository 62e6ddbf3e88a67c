package match

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"hayvn/listing-pipeline/internal/model"
)

// Relaxation stages, narrowest first. ModeNoop is reported when the queue
// is already full and no stage runs.
const (
	ModePriceLocation = "price_location"
	ModePrice         = "price"
	ModePriceWide     = "price_wide"
	ModeFallback      = "fallback"
	ModeNoop          = "noop"
)

// CandidateQuery is one stage of the ladder.
type CandidateQuery struct {
	BrokerageID string
	PriceMin    *float64
	PriceMax    *float64
	PostalCodes []string
	Places      []string
	Exclude     []string // listing ids already recommended to the client
	Limit       int
}

// CandidateFinder runs a CandidateQuery against the listings table.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Listing, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// BuildCandidateQuery renders q: active, priced listings in the brokerage,
// optionally bounded by price and by postal code / place name.
func BuildCandidateQuery(q CandidateQuery) sq.SelectBuilder {
	b := psql.
		Select(
			"id::text", "mls_number", "status", "list_price::float8",
			"beds::float8", "baths::float8", "sqft::float8",
			"address", "city", "postal_code", "last_seen_at",
		).
		From("listings").
		Where(sq.Eq{"brokerage_id": q.BrokerageID}).
		Where("lower(status) = 'active'").
		Where(sq.NotEq{"list_price": nil})

	if q.PriceMin != nil {
		b = b.Where(sq.GtOrEq{"list_price": *q.PriceMin})
	}
	if q.PriceMax != nil {
		b = b.Where(sq.LtOrEq{"list_price": *q.PriceMax})
	}

	if len(q.PostalCodes) > 0 || len(q.Places) > 0 {
		var near sq.Or
		if len(q.PostalCodes) > 0 {
			near = append(near, sq.Eq{"left(postal_code, 5)": q.PostalCodes})
		}
		for _, p := range q.Places {
			near = append(near, sq.ILike{"city": "%" + escapeLike(p) + "%"})
		}
		b = b.Where(near)
	}

	if len(q.Exclude) > 0 {
		b = b.Where(sq.NotEq{"id": q.Exclude})
	}

	return b.OrderBy("last_seen_at DESC NULLS LAST", "id").Limit(uint64(q.Limit))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Retrieval is the pool a ladder stage produced.
type Retrieval struct {
	Mode       string
	Widen      *float64 // nil when no price window applied
	Candidates []model.Listing
}

type stage struct {
	mode         string
	widen        *float64
	withLocation bool
}

// Retriever walks the relaxation ladder until a stage fills the limit.
type Retriever struct {
	finder  CandidateFinder
	weights model.ScoringWeights
}

// NewRetriever constructs a Retriever.
func NewRetriever(finder CandidateFinder, weights model.ScoringWeights) *Retriever {
	return &Retriever{finder: finder, weights: weights}
}

// Retrieve runs each stage in order and returns the first that yields at
// least limit rows, or the last stage's rows when none does. Listings in
// exclude never count towards a stage. Each stage is a superset of the one
// before, so a non-empty pool is found whenever the brokerage has any active
// priced listing the client has not already been shown.
func (r *Retriever) Retrieve(ctx context.Context, c model.Client, locs Locations, limit int, exclude []string) (*Retrieval, error) {
	stages := r.ladder(c, locs)

	var out *Retrieval
	for _, st := range stages {
		q := CandidateQuery{BrokerageID: c.BrokerageID, Exclude: exclude, Limit: limit}
		if st.widen != nil {
			q.PriceMin, q.PriceMax = priceWindow(c, *st.widen)
		}
		if st.withLocation {
			q.PostalCodes, q.Places = locs.PostalCodes, locs.Places
		}

		rows, err := r.finder.FindCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.mode, err)
		}
		out = &Retrieval{Mode: st.mode, Widen: st.widen, Candidates: rows}
		if len(rows) >= limit {
			break
		}
	}
	return out, nil
}

func (r *Retriever) ladder(c model.Client, locs Locations) []stage {
	narrow, wide := r.weights.NarrowWiden, r.weights.WideWiden
	budget := hasBudget(c)

	var stages []stage
	if locs.HasAny() {
		st := stage{mode: ModePriceLocation, withLocation: true}
		if budget {
			st.widen = &narrow
		}
		stages = append(stages, st)
	}
	if budget {
		stages = append(stages,
			stage{mode: ModePrice, widen: &narrow},
			stage{mode: ModePriceWide, widen: &wide},
		)
	}
	return append(stages, stage{mode: ModeFallback})
}

// priceWindow widens each present budget bound by widen. An absent bound
// leaves that side open.
func priceWindow(c model.Client, widen float64) (lo, hi *float64) {
	if c.BudgetMin != nil {
		v := *c.BudgetMin * (1 - widen)
		lo = &v
	}
	if c.BudgetMax != nil {
		v := *c.BudgetMax * (1 + widen)
		hi = &v
	}
	return lo, hi
}

func hasBudget(c model.Client) bool { return c.BudgetMin != nil || c.BudgetMax != nil }
