// Package model defines shared data structures for the listing pipeline.
package model

import (
	"encoding/json"
	"time"
)

// Connection mirrors the mls_connections table row relevant to syncing.
type Connection struct {
	ID             string
	BrokerageID    string
	Label          string
	EndpointURL    string
	Credential     string
	Status         ConnectionStatus
	FilterExpr     string // sent as $filter only when SupportsFilter is set
	SupportsFilter bool
	LastStatusAt   *time.Time
	LastError      *string
}

// Dispatchable reports whether the connection carries what the fetcher needs.
func (c Connection) Dispatchable() bool {
	return c.EndpointURL != "" && c.Credential != ""
}

// RawRecord is one untransformed vendor listing as decoded from JSON.
type RawRecord map[string]any

// Listing is the canonical, vendor-agnostic listing stored in the listings
// table. Pointer fields are nullable columns.
type Listing struct {
	ID                string          `json:"id,omitempty"`
	ConnectionID      string          `json:"connectionId"`
	BrokerageID       string          `json:"brokerageId"`
	MLSNumber         string          `json:"mlsNumber"`
	Status            *string         `json:"status,omitempty"`
	ListDate          *time.Time      `json:"listDate,omitempty"`
	CloseDate         *time.Time      `json:"closeDate,omitempty"`
	ListPrice         *float64        `json:"listPrice,omitempty"`
	ClosePrice        *float64        `json:"closePrice,omitempty"`
	OriginalListPrice *float64        `json:"originalListPrice,omitempty"`
	Beds              *float64        `json:"beds,omitempty"`
	Baths             *float64        `json:"baths,omitempty"`
	Sqft              *float64        `json:"sqft,omitempty"`
	YearBuilt         *float64        `json:"yearBuilt,omitempty"`
	PropertyType      *string         `json:"propertyType,omitempty"`
	Address           *string         `json:"address,omitempty"`
	City              *string         `json:"city,omitempty"`
	State             *string         `json:"state,omitempty"`
	PostalCode        *string         `json:"postalCode,omitempty"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	Raw               json.RawMessage `json:"-"`
	LastSeenAt        *time.Time      `json:"lastSeenAt,omitempty"`
}

// Client mirrors the clients table columns the matcher reads.
type Client struct {
	ID                 string
	BrokerageID        string
	AgentID            string
	BudgetMin          *float64
	BudgetMax          *float64
	PreferredLocations string
}

// Recommendation is one row of client_recommendations.
type Recommendation struct {
	ClientID    string
	ListingID   string
	BrokerageID string
	Score       float64
	Reasons     []string
	Status      RecommendationStatus
}
