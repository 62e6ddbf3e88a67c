package match

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hayvn/listing-pipeline/internal/model"
)

// Scored is a candidate with its relevance score and the reasons behind it.
type Scored struct {
	Listing model.Listing
	Score   float64
	Reasons []string
}

// Scorer computes weighted relevance scores.
type Scorer struct {
	w   model.ScoringWeights
	now func() time.Time
}

// NewScorer constructs a Scorer.
func NewScorer(w model.ScoringWeights) *Scorer {
	return &Scorer{w: w, now: time.Now}
}

// Score rates one listing against a client's budget and parsed locations.
func (s *Scorer) Score(l model.Listing, c model.Client, locs Locations) Scored {
	out := Scored{Listing: l, Reasons: []string{}}
	add := func(points float64, reason string) {
		out.Score += points
		if reason != "" {
			out.Reasons = append(out.Reasons, reason)
		}
	}

	if l.ListPrice != nil {
		price := *l.ListPrice
		switch {
		case !hasBudget(c):
			add(s.w.PriceNoBudget, "Listed at "+formatUSD(price))
		case inBudget(price, c):
			add(s.w.PriceInBudget, "Within budget at "+formatUSD(price))
		default:
			add(s.w.PriceOutsideBudget, "Outside budget at "+formatUSD(price))
		}
	}

	if locs.HasAny() {
		s.scoreLocation(l, locs, add)
	}

	if l.Status != nil && strings.EqualFold(strings.TrimSpace(*l.Status), "active") {
		add(s.w.ActiveStatus, "Active listing")
	}

	if l.LastSeenAt != nil {
		age := s.now().Sub(*l.LastSeenAt)
		switch {
		case age <= time.Duration(s.w.RecentHours)*time.Hour:
			add(s.w.SeenRecent, refreshedWithin(s.w.RecentHours))
		case age <= time.Duration(s.w.WeekHours)*time.Hour:
			add(s.w.SeenThisWeek, refreshedWithin(s.w.WeekHours))
		}
	}

	for _, f := range []*float64{l.Beds, l.Baths, l.Sqft} {
		if f != nil {
			add(s.w.DetailPresent, "")
		}
	}

	return out
}

func (s *Scorer) scoreLocation(l model.Listing, locs Locations, add func(float64, string)) {
	var city, zip string
	if l.City != nil {
		city = normalizePlace(*l.City)
	}
	if l.PostalCode != nil {
		zip = postalPrefix(*l.PostalCode)
	}

	if zip != "" {
		for _, pc := range locs.PostalCodes {
			if pc == zip {
				add(s.w.LocationExact, "In preferred postal code "+zip)
				return
			}
		}
	}

	if city != "" {
		for _, p := range locs.Places {
			if p == city {
				add(s.w.LocationExact, "In preferred area "+displayCity(l))
				return
			}
		}
		// Same direction as the city ILIKE filter in BuildCandidateQuery.
		for _, p := range locs.Places {
			if strings.Contains(city, p) {
				add(s.w.LocationPartial, "Near preferred area "+p)
				return
			}
		}
	}

	if city != "" {
		add(s.w.LocationUnmatched, "Outside preferred areas")
	}
}

// refreshedWithin phrases a freshness window given in hours.
func refreshedWithin(hours int) string {
	switch {
	case hours == 24:
		return "Refreshed in the last day"
	case hours == 168:
		return "Refreshed this week"
	case hours%24 == 0:
		return fmt.Sprintf("Refreshed in the last %d days", hours/24)
	case hours == 1:
		return "Refreshed in the last hour"
	}
	return fmt.Sprintf("Refreshed in the last %d hours", hours)
}

func inBudget(price float64, c model.Client) bool {
	if c.BudgetMin != nil && price < *c.BudgetMin {
		return false
	}
	if c.BudgetMax != nil && price > *c.BudgetMax {
		return false
	}
	return true
}

func displayCity(l model.Listing) string {
	if l.City == nil {
		return ""
	}
	return strings.TrimSpace(*l.City)
}

// formatUSD renders whole dollars with thousands separators.
func formatUSD(v float64) string {
	n := int64(math.Round(v))
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s", sign, b.String())
}
