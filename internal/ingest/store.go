package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hayvn/listing-pipeline/internal/model"
)

const upsertBatchSize = 200

// PostgresStore reads mls_connections and writes listings and connection
// status.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const connectionColumns = `
	SELECT id::text, brokerage_id::text, COALESCE(label, ''),
	       COALESCE(endpoint_url, ''), COALESCE(credential, ''), status::text,
	       COALESCE(filter_expr, ''), supports_filter, last_status_at, last_error
	FROM mls_connections
	WHERE status = 'live' AND brokerage_id = $1`

// LiveConnections loads the live connections of a brokerage. A non-empty
// connectionID narrows the result to that one row.
func (s *PostgresStore) LiveConnections(ctx context.Context, brokerageID, connectionID string) ([]model.Connection, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if connectionID != "" {
		rows, err = s.pool.Query(ctx, connectionColumns+` AND id = $2`, brokerageID, connectionID)
	} else {
		rows, err = s.pool.Query(ctx, connectionColumns+` ORDER BY created_at, id`, brokerageID)
	}
	if err != nil {
		return nil, fmt.Errorf("query mls_connections: %w", err)
	}
	defer rows.Close()

	conns := make([]model.Connection, 0)
	for rows.Next() {
		var (
			c      model.Connection
			status string
		)
		if err := rows.Scan(
			&c.ID, &c.BrokerageID, &c.Label,
			&c.EndpointURL, &c.Credential, &status,
			&c.FilterExpr, &c.SupportsFilter, &c.LastStatusAt, &c.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan mls_connections: %w", err)
		}
		if c.Status, err = model.ParseConnectionStatus(status); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// BrokeragesWithLiveConnections lists every brokerage that has at least one
// live connection. Used by the scheduled trigger.
func (s *PostgresStore) BrokeragesWithLiveConnections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT brokerage_id::text FROM mls_connections WHERE status = 'live' ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query brokerages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan brokerage: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSynced re-affirms live and clears last_error. A connection an operator
// moved out of live mid-sync is left as they set it.
func (s *PostgresStore) MarkSynced(ctx context.Context, connectionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE mls_connections
		 SET status = 'live', last_status_at = $2, last_error = NULL
		 WHERE id = $1 AND status = 'live'`,
		connectionID, at,
	)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkFailed records the attempt time and error message. Status is never
// changed by a failed sync.
func (s *PostgresStore) MarkFailed(ctx context.Context, connectionID string, at time.Time, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE mls_connections
		 SET last_status_at = $2, last_error = $3
		 WHERE id = $1`,
		connectionID, at, msg,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

const upsertListingSQL = `
	INSERT INTO listings (
	    connection_id, brokerage_id, mls_number, status, list_date, close_date,
	    list_price, close_price, original_list_price, beds, baths, sqft,
	    year_built, property_type, address, city, state, postal_code,
	    latitude, longitude, raw, first_seen_at, last_seen_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	        $16, $17, $18, $19, $20, $21::jsonb, NOW(), NOW(), NOW())
	ON CONFLICT (connection_id, mls_number) DO UPDATE SET
	    brokerage_id        = EXCLUDED.brokerage_id,
	    status              = EXCLUDED.status,
	    list_date           = EXCLUDED.list_date,
	    close_date          = EXCLUDED.close_date,
	    list_price          = EXCLUDED.list_price,
	    close_price         = EXCLUDED.close_price,
	    original_list_price = EXCLUDED.original_list_price,
	    beds                = EXCLUDED.beds,
	    baths               = EXCLUDED.baths,
	    sqft                = EXCLUDED.sqft,
	    year_built          = EXCLUDED.year_built,
	    property_type       = EXCLUDED.property_type,
	    address             = EXCLUDED.address,
	    city                = EXCLUDED.city,
	    state               = EXCLUDED.state,
	    postal_code         = EXCLUDED.postal_code,
	    latitude            = EXCLUDED.latitude,
	    longitude           = EXCLUDED.longitude,
	    raw                 = EXCLUDED.raw,
	    last_seen_at        = NOW(),
	    updated_at          = NOW()`

// UpsertListings inserts or overwrites listings keyed by
// (connection_id, mls_number), in batches. It returns the number of rows
// written.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []model.Listing) (int, error) {
	total := 0
	for i := 0; i < len(listings); i += upsertBatchSize {
		j := min(i+upsertBatchSize, len(listings))

		b := &pgx.Batch{}
		for _, l := range listings[i:j] {
			b.Queue(upsertListingSQL,
				l.ConnectionID, l.BrokerageID, l.MLSNumber, l.Status, l.ListDate, l.CloseDate,
				l.ListPrice, l.ClosePrice, l.OriginalListPrice, l.Beds, l.Baths, l.Sqft,
				l.YearBuilt, l.PropertyType, l.Address, l.City, l.State, l.PostalCode,
				l.Latitude, l.Longitude, string(l.Raw),
			)
		}

		br := s.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("upsert listing %s: %w", listings[k].MLSNumber, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("close batch: %w", err)
		}
	}
	return total, nil
}
