package model

import "fmt"

// ConnectionStatus values mirror the connection_status enum in PostgreSQL.
// Operators move connections between pending, live and disabled; a sync only
// re-affirms live on success and leaves the status alone on failure.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionLive     ConnectionStatus = "live"
	ConnectionDisabled ConnectionStatus = "disabled"
)

// ParseConnectionStatus converts a raw string to a ConnectionStatus,
// returning an error for unknown values.
func ParseConnectionStatus(s string) (ConnectionStatus, error) {
	st := ConnectionStatus(s)
	switch st {
	case ConnectionPending, ConnectionLive, ConnectionDisabled:
		return st, nil
	}
	return "", fmt.Errorf("unknown connection status %q", s)
}

// IsDispatchable returns true when the sync engine may fetch for a
// connection in status s.
func IsDispatchable(s ConnectionStatus) bool { return s == ConnectionLive }

// RecommendationStatus values mirror the recommendation_status enum.
// The matcher only ever creates rows in new; every later move is made by an
// agent or the client.
type RecommendationStatus string

const (
	RecommendationNew       RecommendationStatus = "new"
	RecommendationReviewed  RecommendationStatus = "reviewed"
	RecommendationDismissed RecommendationStatus = "dismissed"
	RecommendationSaved     RecommendationStatus = "saved"
	RecommendationToured    RecommendationStatus = "toured"
)

// ParseRecommendationStatus converts a raw string to a RecommendationStatus.
func ParseRecommendationStatus(s string) (RecommendationStatus, error) {
	st := RecommendationStatus(s)
	switch st {
	case RecommendationNew, RecommendationReviewed, RecommendationDismissed,
		RecommendationSaved, RecommendationToured:
		return st, nil
	}
	return "", fmt.Errorf("unknown recommendation status %q", s)
}

// IsQueued returns true when a recommendation still counts towards the
// client's unreviewed queue.
func IsQueued(s RecommendationStatus) bool { return s == RecommendationNew }
