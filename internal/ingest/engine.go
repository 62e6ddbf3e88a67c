// Package ingest implements the listing synchronization engine: paginated
// fetching from MLS feeds, normalization into canonical listings, and
// idempotent upserts with per-connection status tracking.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"hayvn/listing-pipeline/internal/events"
	"hayvn/listing-pipeline/internal/model"
)

const maxErrorLength = 500

// ConnectionStore is the connection registry plus the status tracker.
type ConnectionStore interface {
	LiveConnections(ctx context.Context, brokerageID, connectionID string) ([]model.Connection, error)
	MarkSynced(ctx context.Context, connectionID string, at time.Time) error
	MarkFailed(ctx context.Context, connectionID string, at time.Time, msg string) error
}

// ListingWriter persists normalized listings.
type ListingWriter interface {
	UpsertListings(ctx context.Context, listings []model.Listing) (int, error)
}

// Request scopes one sync invocation.
type Request struct {
	BrokerageID  string
	ConnectionID string // optional
	DryRun       bool   // fetch and normalize only; nothing is written
}

// ConnectionResult reports the outcome for one connection.
type ConnectionResult struct {
	ConnectionID string
	OK           bool
	FetchedRaw   int
	Normalized   int
	Upserted     int
	Error        string
}

// MarshalJSON emits the counts on success and only the error on failure.
func (r ConnectionResult) MarshalJSON() ([]byte, error) {
	if !r.OK {
		return json.Marshal(struct {
			ConnectionID string `json:"connection_id"`
			OK           bool   `json:"ok"`
			Error        string `json:"error"`
		}{r.ConnectionID, false, r.Error})
	}
	return json.Marshal(struct {
		ConnectionID string `json:"connection_id"`
		OK           bool   `json:"ok"`
		FetchedRaw   int    `json:"fetched_raw"`
		Normalized   int    `json:"normalized"`
		Upserted     int    `json:"upserted"`
	}{r.ConnectionID, true, r.FetchedRaw, r.Normalized, r.Upserted})
}

// Report is the result of one sync invocation.
type Report struct {
	OK      bool               `json:"ok"`
	DryRun  bool               `json:"dry_run"`
	Message string             `json:"message,omitempty"`
	Results []ConnectionResult `json:"results"`
}

// Engine runs the sync path for a brokerage's live connections.
type Engine struct {
	store   ConnectionStore
	writer  ListingWriter
	fetcher Fetcher
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(store ConnectionStore, writer ListingWriter, fetcher Fetcher, pub events.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		writer:  writer,
		fetcher: fetcher,
		events:  pub,
		logger:  logger,
		now:     time.Now,
	}
}

// Sync processes every live connection in scope, one after another. A
// failing connection is recorded and skipped; it never aborts the others.
// Only a failure to load the connections themselves is returned as an error.
func (e *Engine) Sync(ctx context.Context, req Request) (*Report, error) {
	conns, err := e.store.LiveConnections(ctx, req.BrokerageID, req.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	report := &Report{OK: true, DryRun: req.DryRun, Results: make([]ConnectionResult, 0, len(conns))}
	if len(conns) == 0 {
		report.Message = "no live connections"
		e.logger.Info("nothing to sync", "brokerageId", req.BrokerageID, "connectionId", req.ConnectionID)
		return report, nil
	}

	for _, conn := range conns {
		res := e.syncOne(ctx, conn, req.DryRun)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (e *Engine) syncOne(ctx context.Context, conn model.Connection, dryRun bool) ConnectionResult {
	log := e.logger.With("connectionId", conn.ID, "label", conn.Label)

	if !model.IsDispatchable(conn.Status) {
		return e.fail(ctx, log, conn, dryRun, fmt.Errorf("connection is %s, not live", conn.Status))
	}
	if !conn.Dispatchable() {
		return e.fail(ctx, log, conn, dryRun, fmt.Errorf("connection missing endpoint or credential"))
	}

	raw, err := e.fetcher.FetchAll(ctx, conn)
	if err != nil {
		return e.fail(ctx, log, conn, dryRun, fmt.Errorf("fetch: %w", err))
	}

	listings := make([]model.Listing, 0, len(raw))
	for _, r := range raw {
		if l, ok := Normalize(r, conn); ok {
			listings = append(listings, l)
		}
	}

	res := ConnectionResult{
		ConnectionID: conn.ID,
		OK:           true,
		FetchedRaw:   len(raw),
		Normalized:   len(listings),
	}

	if dryRun {
		log.Info("dry run complete", "fetched", res.FetchedRaw, "normalized", res.Normalized)
		return res
	}

	res.Upserted, err = e.writer.UpsertListings(ctx, listings)
	if err != nil {
		return e.fail(ctx, log, conn, dryRun, fmt.Errorf("upsert: %w", err))
	}

	if err := e.store.MarkSynced(ctx, conn.ID, e.now()); err != nil {
		log.Warn("record sync status failed", "err", err)
	}

	if err := e.events.Publish(ctx, events.ListingsSynced, map[string]any{
		"connectionId": conn.ID,
		"brokerageId":  conn.BrokerageID,
		"upserted":     res.Upserted,
	}); err != nil {
		log.Warn("publish listings synced failed", "err", err)
	}

	log.Info("connection synced", "fetched", res.FetchedRaw, "normalized", res.Normalized, "upserted", res.Upserted)
	return res
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, conn model.Connection, dryRun bool, err error) ConnectionResult {
	msg := truncate(err.Error(), maxErrorLength)
	log.Warn("connection sync failed", "err", msg)

	if !dryRun {
		if err := e.store.MarkFailed(ctx, conn.ID, e.now(), msg); err != nil {
			log.Warn("record sync failure failed", "err", err)
		}
	}
	return ConnectionResult{ConnectionID: conn.ID, OK: false, Error: msg}
}
