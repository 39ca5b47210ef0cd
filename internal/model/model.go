// Package model defines the core data structures shared by every stage of
// the tender matching and delivery pipeline: subscribers, filters, tenders,
// score reports, delivery records and cache entries.
package model

import "time"

// ─── Subscriber ───────────────────────────────────────────────────────────

// Tier is the subscriber's service plan, controlling quota caps.
type Tier string

const (
	TierTrial   Tier = "trial"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// Subscriber is a person or chat that owns one or more Filters.
type Subscriber struct {
	ID              string         `json:"id"`                // opaque subscriber identity
	ChatID          string         `json:"chat_id"`           // chat-platform address
	Tier            Tier           `json:"tier"`               // trial, basic or premium
	QuietStart      string         `json:"quiet_start"`       // "HH:MM" local time
	QuietEnd        string         `json:"quiet_end"`         // "HH:MM" local time
	TZ              string         `json:"tz"`                // IANA zone, e.g. "Europe/Moscow"
	DeliveryBlocked bool           `json:"delivery_blocked"`  // true once the sink reports the recipient unreachable
	Data            map[string]any `json:"data,omitempty"`    // legacy JSON pouch — migration shim only, never read by the pipeline
}

// Location resolves the subscriber's IANA zone, defaulting to UTC on
// malformed/missing data rather than silently assuming a fixed offset —
// the fixed-UTC+3 behaviour of the source is an explicitly forbidden defect.
func (s Subscriber) Location() *time.Location {
	if s.TZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ─── Filter ───────────────────────────────────────────────────────────────

// LawType is the procurement legal regime.
type LawType string

const (
	Law44FZ LawType = "44-FZ"
	Law223FZ LawType = "223-FZ"
	LawAny   LawType = "any"
)

// TenderType is a procurement-object category.
type TenderType string

const (
	TenderGoods    TenderType = "goods"
	TenderServices TenderType = "services"
	TenderWorks    TenderType = "works"
)

// NullRegionPolicy decides how the matcher treats a tender whose region
// could not be resolved to a canonical federal subject.
type NullRegionPolicy string

const (
	NullRegionPassThrough NullRegionPolicy = "pass"
	NullRegionPenalise    NullRegionPolicy = "penalise"
	NullRegionReject      NullRegionPolicy = "reject"
)

// Filter is a subscriber-owned specification of which tenders are of interest.
type Filter struct {
	ID                string       `json:"id"`
	SubscriberID      string       `json:"subscriber_id"`
	Name              string       `json:"name"`
	IsActive          bool         `json:"is_active"`
	DeletedAt         *time.Time   `json:"deleted_at,omitempty"` // soft deletion; nil while restorable/active

	Keywords         []string `json:"keywords"`          // ordered, non-empty
	ExcludeKeywords  []string `json:"exclude_keywords"`
	PrimaryKeywords  []string `json:"primary_keywords"`  // weighted x2
	SecondaryKeywords []string `json:"secondary_keywords"` // weighted x1
	ExpandedKeywords []string `json:"expanded_keywords"` // derived synonyms

	Regions          []string `json:"regions"`           // canonical region names; empty = any region
	PriceMin         *int64   `json:"price_min,omitempty"`
	PriceMax         *int64   `json:"price_max,omitempty"`
	TenderTypes      []TenderType `json:"tender_types"`
	LawType          LawType  `json:"law_type"`

	AIIntent        string `json:"ai_intent"`         // free-text intent, derived
	AIIntentVersion int    `json:"ai_intent_version"` // bumped whenever the derivation inputs change; used as oracle cache key

	MinDeadlineDays int      `json:"min_deadline_days"`
	NotifyChatIDs   []string `json:"notify_chat_ids,omitempty"` // alternative delivery addresses
}

// Active reports whether the pipeline may ever consult this filter.
func (f Filter) Active() bool {
	return f.IsActive && f.DeletedAt == nil
}

// IntentInputsFingerprint concatenates every field that should invalidate a
// stale ai_intent / oracle cache when it changes — see spec §9 "ai_intent staleness".
func (f Filter) IntentInputsFingerprint() string {
	b := make([]byte, 0, 256)
	join := func(xs []string) {
		for _, x := range xs {
			b = append(b, x...)
			b = append(b, ';')
		}
		b = append(b, '|')
	}
	join(f.Keywords)
	join(f.PrimaryKeywords)
	join(f.SecondaryKeywords)
	join(f.Regions)
	for _, tt := range f.TenderTypes {
		b = append(b, tt...)
		b = append(b, ';')
	}
	b = append(b, '|')
	if f.PriceMin != nil {
		b = append(b, []byte(itoa(*f.PriceMin))...)
	}
	b = append(b, '-')
	if f.PriceMax != nil {
		b = append(b, []byte(itoa(*f.PriceMax))...)
	}
	return string(b)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ─── Tender ───────────────────────────────────────────────────────────────

// Tender is a published procurement solicitation. Raw fields come straight
// from the feed; Enriched is populated by FeedSource.enrich and is never
// itself mutated once set — a fresh enrichment produces a fresh pointer.
type Tender struct {
	ID                  string     `json:"id"` // procurement number, unique
	CustomerName        string     `json:"customer_name"`
	CustomerINN         string     `json:"customer_inn,omitempty"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	DeclaredPrice       int64      `json:"declared_price"` // coarse, from feed
	ProcurementType     TenderType `json:"procurement_type"`
	LawType             LawType    `json:"law_type"`
	PublishedAt         time.Time  `json:"published_at"`
	SubmissionDeadline  *time.Time `json:"submission_deadline,omitempty"`
	PerformanceRegion   string     `json:"performance_region,omitempty"` // raw text, pre-normalisation
	SourceURL           string     `json:"source_url"`

	Enriched *EnrichedFields `json:"enriched,omitempty"`
}

// EnrichedFields holds everything FeedSource.enrich can add from the detail page.
type EnrichedFields struct {
	PrecisePrice       *int64     `json:"precise_price,omitempty"`
	CustomerRegion     *string    `json:"customer_region,omitempty"` // canonical, nullable
	SubmissionDeadline *time.Time `json:"submission_deadline,omitempty"`
	Title              string     `json:"title,omitempty"`
	DetailFingerprint  string     `json:"detail_fingerprint,omitempty"`
	Partial            bool       `json:"partial"` // true when enrichment timed out or the detail page errored
}

// CombinedText is the text the matcher scores against.
func (tn Tender) CombinedText() string {
	out := tn.Title + " " + tn.Description
	if tn.Enriched != nil && tn.Enriched.Title != "" {
		out += " " + tn.Enriched.Title
	}
	return out
}

// Deadline returns the best-known submission deadline, enriched taking
// precedence over the feed-level value.
func (tn Tender) Deadline() *time.Time {
	if tn.Enriched != nil && tn.Enriched.SubmissionDeadline != nil {
		return tn.Enriched.SubmissionDeadline
	}
	return tn.SubmissionDeadline
}

// Price returns the best-known price, enriched taking precedence.
func (tn Tender) Price() int64 {
	if tn.Enriched != nil && tn.Enriched.PrecisePrice != nil {
		return *tn.Enriched.PrecisePrice
	}
	return tn.DeclaredPrice
}

// Region returns the best-known canonical customer region, or nil if unknown.
func (tn Tender) Region() *string {
	if tn.Enriched != nil {
		return tn.Enriched.CustomerRegion
	}
	return nil
}

// ─── ScoreReport ──────────────────────────────────────────────────────────

// Classification is the matcher's verdict for a (tender, filter) pair.
type Classification string

const (
	ClassReject   Classification = "reject"
	ClassConsider Classification = "consider"
	ClassAccept   Classification = "accept"
)

// ScoreReport captures the deterministic scoring detail for one (tender, filter) pair.
type ScoreReport struct {
	TenderID        string         `json:"tender_id"`
	FilterID        string         `json:"filter_id"`
	Score           int            `json:"score"`    // composite, [0,100]
	Classification  Classification `json:"classification"`
	MatchedKeywords []string       `json:"matched_keywords,omitempty"`
	RejectCause     string         `json:"reject_cause,omitempty"`
	OracleConfidence *int          `json:"oracle_confidence,omitempty"`
}

// ─── DeliveryRecord ───────────────────────────────────────────────────────

// DeliveryState is the lifecycle state of a DeliveryRecord.
type DeliveryState string

const (
	DeliveryTentative DeliveryState = "tentative"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryAbandoned DeliveryState = "abandoned"
)

// DeliveryRecord is the durable, unique-per-(subscriber, filter, tender) row
// that enforces at-most-once delivery.
type DeliveryRecord struct {
	SubscriberID string        `json:"subscriber_id"`
	FilterID     string        `json:"filter_id"`
	TenderID     string        `json:"tender_id"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	State        DeliveryState `json:"state"`
	ReservedAt   time.Time     `json:"reserved_at"`
}

// ─── CacheEntry ───────────────────────────────────────────────────────────

// CacheKind distinguishes the two persistent cache namespaces.
type CacheKind string

const (
	CacheEnrichment CacheKind = "enrichment"
	CacheOracle     CacheKind = "oracle"
)

// CacheEntry is a single keyed, expiring cache row.
type CacheEntry struct {
	Kind      CacheKind `json:"kind"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"` // JSON-encoded payload
	ExpiresAt time.Time `json:"expires_at"`
}
