package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hayvn/listing-pipeline/internal/model"
)

// PostgresStore reads clients, listings and recommendation history, and
// writes new recommendations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadClient returns ErrClientNotFound for an unknown id.
func (s *PostgresStore) LoadClient(ctx context.Context, clientID string) (*model.Client, error) {
	var c model.Client
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, brokerage_id::text, COALESCE(agent_id::text, ''),
		        budget_min::float8, budget_max::float8, COALESCE(preferred_locations, '')
		 FROM clients
		 WHERE id = $1`, clientID,
	).Scan(&c.ID, &c.BrokerageID, &c.AgentID, &c.BudgetMin, &c.BudgetMax, &c.PreferredLocations)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	return &c, nil
}

// RecommendationHistory maps every listing ever recommended to the client
// onto its current status.
func (s *PostgresStore) RecommendationHistory(ctx context.Context, clientID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id::text, status::text FROM client_recommendations WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query client_recommendations: %w", err)
	}
	defer rows.Close()

	history := make(map[string]string)
	for rows.Next() {
		var listingID, status string
		if err := rows.Scan(&listingID, &status); err != nil {
			return nil, fmt.Errorf("scan client_recommendations: %w", err)
		}
		history[listingID] = status
	}
	return history, rows.Err()
}

// FindCandidates runs one stage of the relaxation ladder.
func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]model.Listing, error) {
	query, args, err := BuildCandidateQuery(q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]model.Listing, 0, q.Limit)
	for rows.Next() {
		l := model.Listing{BrokerageID: q.BrokerageID}
		if err := rows.Scan(
			&l.ID, &l.MLSNumber, &l.Status, &l.ListPrice,
			&l.Beds, &l.Baths, &l.Sqft,
			&l.Address, &l.City, &l.PostalCode, &l.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

const insertRecommendationSQL = `
	INSERT INTO client_recommendations (client_id, listing_id, brokerage_id, score, reasons, status)
	VALUES ($1, $2, $3, $4, $5, $6::recommendation_status)
	ON CONFLICT (client_id, listing_id) DO NOTHING
	RETURNING listing_id::text`

// InsertRecommendations writes recs in one transaction and returns the
// listing ids actually inserted. Rows that already exist are left untouched.
func (s *PostgresStore) InsertRecommendations(ctx context.Context, recs []model.Recommendation) ([]string, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, r := range recs {
		b.Queue(insertRecommendationSQL,
			r.ClientID, r.ListingID, r.BrokerageID, r.Score, r.Reasons, string(r.Status))
	}

	inserted := make([]string, 0, len(recs))
	br := tx.SendBatch(ctx, b)
	for _, r := range recs {
		var listingID string
		err := br.QueryRow().Scan(&listingID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // lost the race to a concurrent call
		}
		if err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("insert recommendation %s: %w", r.ListingID, err)
		}
		inserted = append(inserted, listingID)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
