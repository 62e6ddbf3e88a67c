package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hayvn/listing-pipeline/internal/model"
)

// Vendor field names per canonical attribute, most authoritative first.
var (
	mlsNumberKeys    = []string{"ListingId", "ListingKey", "ListingID", "MLSNumber", "MlsNumber", "mls_number", "listing_id", "id"}
	statusKeys       = []string{"StandardStatus", "MlsStatus", "Status", "status"}
	listDateKeys     = []string{"ListingContractDate", "ListDate", "OnMarketDate", "list_date"}
	closeDateKeys    = []string{"CloseDate", "SoldDate", "close_date"}
	listPriceKeys    = []string{"ListPrice", "Price", "AskingPrice", "list_price", "price"}
	closePriceKeys   = []string{"ClosePrice", "SoldPrice", "close_price"}
	origPriceKeys    = []string{"OriginalListPrice", "original_list_price"}
	bedsKeys         = []string{"BedroomsTotal", "Bedrooms", "BedsTotal", "beds"}
	bathsKeys        = []string{"BathroomsTotalInteger", "BathroomsTotalDecimal", "BathroomsFull", "Bathrooms", "baths"}
	sqftKeys         = []string{"LivingArea", "BuildingAreaTotal", "SquareFeet", "sqft", "living_area"}
	yearBuiltKeys    = []string{"YearBuilt", "year_built"}
	propertyTypeKeys = []string{"PropertyType", "PropertySubType", "property_type"}
	addressKeys      = []string{"UnparsedAddress", "StreetAddress", "FullAddress", "address"}
	cityKeys         = []string{"City", "PostalCity", "city"}
	stateKeys        = []string{"StateOrProvince", "State", "state"}
	postalCodeKeys   = []string{"PostalCode", "ZipCode", "Zip", "postal_code", "zip"}
	latitudeKeys     = []string{"Latitude", "Lat", "latitude", "lat"}
	longitudeKeys    = []string{"Longitude", "Lng", "Lon", "longitude", "lng", "lon"}
)

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// timestampLayouts are tried in order when a value is not a bare date.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	time.RFC1123Z,
	time.RFC1123,
	"01/02/2006",
}

// Normalize maps one raw vendor record onto the canonical listing for conn.
// It returns false when the record is not a JSON object or carries no
// resolvable listing number; such records are dropped, not reported.
func Normalize(raw json.RawMessage, conn model.Connection) (model.Listing, bool) {
	rec, ok := decodeRecord(raw)
	if !ok {
		return model.Listing{}, false
	}

	mls := toString(first(rec, mlsNumberKeys))
	if mls == nil {
		return model.Listing{}, false
	}

	l := model.Listing{
		ConnectionID:      conn.ID,
		BrokerageID:       conn.BrokerageID,
		MLSNumber:         *mls,
		Status:            toString(first(rec, statusKeys)),
		ListDate:          toDate(first(rec, listDateKeys)),
		CloseDate:         toDate(first(rec, closeDateKeys)),
		ListPrice:         toFloat(first(rec, listPriceKeys)),
		ClosePrice:        toFloat(first(rec, closePriceKeys)),
		OriginalListPrice: toFloat(first(rec, origPriceKeys)),
		Beds:              toFloat(first(rec, bedsKeys)),
		Baths:             toFloat(first(rec, bathsKeys)),
		Sqft:              toFloat(first(rec, sqftKeys)),
		YearBuilt:         toFloat(first(rec, yearBuiltKeys)),
		PropertyType:      toString(first(rec, propertyTypeKeys)),
		Address:           toString(first(rec, addressKeys)),
		City:              toString(first(rec, cityKeys)),
		State:             toString(first(rec, stateKeys)),
		PostalCode:        toString(first(rec, postalCodeKeys)),
		Latitude:          bounded(toFloat(first(rec, latitudeKeys)), 90),
		Longitude:         bounded(toFloat(first(rec, longitudeKeys)), 180),
		Raw:               append(json.RawMessage(nil), bytes.TrimSpace(raw)...),
	}
	return l, true
}

func decodeRecord(raw json.RawMessage) (model.RawRecord, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec model.RawRecord
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return nil, false
	}
	return rec, true
}

// first returns the first value among keys that is present and not null.
func first(rec model.RawRecord, keys []string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toString(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// toFloat never fails: unparsable and non-finite values are absent.
func toFloat(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = strconv.ParseFloat(t.String(), 64)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case float64:
		f = t
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// toDate parses a bare YYYY-MM-DD as a date, otherwise tries the timestamp
// layouts and keeps the UTC calendar day.
func toDate(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if dateOnly.MatchString(s) {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil
		}
		return &t
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.UTC()
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	return nil
}

func bounded(f *float64, limit float64) *float64 {
	if f == nil || math.Abs(*f) > limit {
		return nil
	}
	return f
}
