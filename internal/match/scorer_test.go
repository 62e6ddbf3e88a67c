package match

import (
	"reflect"
	"testing"
	"time"

	"hayvn/listing-pipeline/internal/model"
)

var scoreNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testScorer() *Scorer {
	s := NewScorer(model.DefaultScoringWeights())
	s.now = func() time.Time { return scoreNow }
	return s
}

func listing(id, city, zip string, price float64, seenAgo time.Duration) model.Listing {
	seen := scoreNow.Add(-seenAgo)
	return model.Listing{
		ID: id, MLSNumber: "MLS-" + id, BrokerageID: "brk-1",
		Status: ptr("Active"), ListPrice: ptr(price),
		City: ptr(city), PostalCode: ptr(zip),
		Beds: ptr(3.0), Baths: ptr(2.0), Sqft: ptr(1800.0),
		LastSeenAt: &seen,
	}
}

func TestScore_InBudgetExactLocation(t *testing.T) {
	got := testScorer().Score(listing("1", "Irvine", "92618", 950000, time.Hour), budgetClient, ParseLocations("Irvine, 92618"))

	if got.Score != 93 {
		t.Errorf("Score = %v, want 40+35+5+10+3 = 93", got.Score)
	}
	want := []string{
		"Within budget at $950,000",
		"In preferred postal code 92618",
		"Active listing",
		"Refreshed in the last 2 days",
	}
	if !reflect.DeepEqual(got.Reasons, want) {
		t.Errorf("Reasons = %q, want %q", got.Reasons, want)
	}
}

func TestScore_OutOfBudgetUnmatched(t *testing.T) {
	got := testScorer().Score(listing("2", "Tustin", "92780", 2000000, time.Hour), budgetClient, ParseLocations("Irvine, 92618"))

	if got.Score != 35 {
		t.Errorf("Score = %v, want 15+2+5+10+3 = 35", got.Score)
	}
	if got.Reasons[0] != "Outside budget at $2,000,000" || got.Reasons[1] != "Outside preferred areas" {
		t.Errorf("Reasons = %q", got.Reasons)
	}
}

func TestScore_Rules(t *testing.T) {
	locs := ParseLocations("Newport Beach, 92618")
	cases := []struct {
		name   string
		mutate func(*model.Listing)
		client model.Client
		want   float64
	}{
		{"exact city", func(l *model.Listing) { l.City, l.PostalCode = ptr(" newport  BEACH "), ptr("92660") }, budgetClient, 93},
		{"partial city", func(l *model.Listing) { l.City, l.PostalCode = ptr("North Newport Beach"), ptr("92660") }, budgetClient, 78},
		{"city inside preference is unmatched", func(l *model.Listing) { l.City, l.PostalCode = ptr("Newport"), ptr("92660") }, budgetClient, 60},
		{"zip+4 matches", func(l *model.Listing) { l.City, l.PostalCode = ptr("Irvine"), ptr("92618-4411") }, budgetClient, 93},
		{"no city no zip", func(l *model.Listing) { l.City, l.PostalCode = nil, nil }, budgetClient, 58},
		{"no budget", func(l *model.Listing) { l.City = ptr("Newport Beach") }, model.Client{}, 58},
		{"below min", func(l *model.Listing) { l.ListPrice = ptr(799999.0); l.City = ptr("Newport Beach") }, budgetClient, 68},
		{"pending", func(l *model.Listing) { l.Status = ptr("Pending"); l.City = ptr("Newport Beach") }, budgetClient, 88},
		{"seen this week", func(l *model.Listing) { s := scoreNow.Add(-72 * time.Hour); l.LastSeenAt = &s; l.City = ptr("Newport Beach") }, budgetClient, 88},
		{"stale", func(l *model.Listing) { s := scoreNow.Add(-200 * time.Hour); l.LastSeenAt = &s; l.City = ptr("Newport Beach") }, budgetClient, 83},
		{"no details", func(l *model.Listing) { l.Beds, l.Baths, l.Sqft = nil, nil, nil; l.City = ptr("Newport Beach") }, budgetClient, 90},
		{"no price", func(l *model.Listing) { l.ListPrice = nil; l.City = ptr("Newport Beach") }, budgetClient, 53},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := listing("x", "Costa Mesa", "92626", 1000000, time.Hour)
			c.mutate(&l)
			if got := testScorer().Score(l, c.client, locs); got.Score != c.want {
				t.Errorf("Score = %v, want %v (reasons %q)", got.Score, c.want, got.Reasons)
			}
		})
	}
}

func TestScore_NoLocationPreferenceSkipsLocationRule(t *testing.T) {
	got := testScorer().Score(listing("3", "Tustin", "92780", 950000, time.Hour), budgetClient, Locations{})
	if got.Score != 58 {
		t.Errorf("Score = %v, want 40+5+10+3 = 58", got.Score)
	}
}

func TestScore_OneLetterCityIsNotNear(t *testing.T) {
	got := testScorer().Score(listing("4", "A", "00000", 950000, time.Hour), budgetClient, ParseLocations("Laguna Beach"))
	for _, r := range got.Reasons {
		if r == "Near preferred area laguna beach" {
			t.Fatalf("one-letter city matched as near: %q", got.Reasons)
		}
	}
	if got.Score != 60 {
		t.Errorf("Score = %v, want 40+2+5+10+3 = 60", got.Score)
	}
}

func TestScore_FreshnessReasonFollowsWeights(t *testing.T) {
	w := model.DefaultScoringWeights()
	w.RecentHours, w.WeekHours = 72, 336
	s := NewScorer(w)
	s.now = func() time.Time { return scoreNow }

	cases := []struct {
		ago  time.Duration
		want string
	}{
		{60 * time.Hour, "Refreshed in the last 3 days"},
		{200 * time.Hour, "Refreshed in the last 14 days"},
	}
	for _, c := range cases {
		got := s.Score(listing("5", "Irvine", "92618", 950000, c.ago), budgetClient, Locations{})
		if last := got.Reasons[len(got.Reasons)-1]; last != c.want {
			t.Errorf("seen %v ago: reason = %q, want %q", c.ago, last, c.want)
		}
	}
}

func TestRefreshedWithin(t *testing.T) {
	cases := map[int]string{
		1:   "Refreshed in the last hour",
		12:  "Refreshed in the last 12 hours",
		24:  "Refreshed in the last day",
		48:  "Refreshed in the last 2 days",
		168: "Refreshed this week",
	}
	for in, want := range cases {
		if got := refreshedWithin(in); got != want {
			t.Errorf("refreshedWithin(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatUSD(t *testing.T) {
	cases := map[float64]string{
		0:          "$0",
		999:        "$999",
		1000:       "$1,000",
		950000:     "$950,000",
		1234567.6:  "$1,234,568",
		-2500:      "-$2,500",
		1000000000: "$1,000,000,000",
	}
	for in, want := range cases {
		if got := formatUSD(in); got != want {
			t.Errorf("formatUSD(%v) = %q, want %q", in, got, want)
		}
	}
}
