// Package feed implements FeedSource (spec §4.2): polling zakupki.gov.ru for
// candidate tenders and enriching a candidate from its detail page.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/sirupsen/logrus"

	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/pipelineerr"
	"github.com/dataparency-dev/tenderwatch/internal/region"
)

// Query is the set of server-accepted filter parameters for one poll.
type Query struct {
	Keywords []string
	PriceMin *int64
	PriceMax *int64
	LawType  model.LawType
	// TypeHint narrows client-side filtering (spec §4.2's "goods" workaround);
	// empty means no client-side type narrowing is applied.
	TypeHint model.TenderType
}

// Cursor yields raw tenders for one poll. It is explicitly single-use: once
// Next returns false the Cursor is exhausted and must be discarded, never
// restarted (spec §4.2 "not restartable").
type Cursor struct {
	items []model.Tender
	pos   int
	err   error
}

// Next advances the cursor. Returns false at end-of-sequence or on error;
// callers must check Err after a false return.
func (c *Cursor) Next() bool {
	if c.err != nil || c.pos >= len(c.items) {
		return false
	}
	c.pos++
	return true
}

// Tender returns the current item; valid only after a true Next().
func (c *Cursor) Tender() model.Tender { return c.items[c.pos-1] }

// Err returns the terminal error, if polling failed outright.
func (c *Cursor) Err() error { return c.err }

// NewCursor builds a Cursor directly from a fixed slice of tenders, for
// Source implementations other than HTTPFeedSource (fakes in tests, future
// non-HTTP sources) that need to hand the pipeline a finished result set.
func NewCursor(items []model.Tender) *Cursor {
	return &Cursor{items: items}
}

// NewErrCursor builds a Cursor that immediately fails with err.
func NewErrCursor(err error) *Cursor {
	return &Cursor{err: err}
}

// Source is the FeedSource contract.
type Source interface {
	Poll(ctx context.Context, q Query) *Cursor
	Enrich(ctx context.Context, raw model.Tender) model.Tender
}

// HTTPFeedSource is the concrete Source talking to a configurable zakupki
// JSON/RSS endpoint, using hedged requests for the detail-page fetch so a
// slow first attempt does not block the whole enrichment slot (spec §4.2
// "hard timeout, tolerate partial/slow detail pages").
type HTTPFeedSource struct {
	feedBaseURL   string
	detailBaseURL string
	client        *http.Client
	log           logrus.FieldLogger
}

// NewHTTPFeedSource builds an HTTPFeedSource. enrichTimeout is the hard
// per-detail-page timeout (spec default 10s); hedgeAfter is the delay before
// a second, hedged attempt fires.
func NewHTTPFeedSource(feedBaseURL, detailBaseURL string, enrichTimeout, hedgeAfter time.Duration, log logrus.FieldLogger) *HTTPFeedSource {
	base := &http.Client{Timeout: enrichTimeout}
	return &HTTPFeedSource{
		feedBaseURL:   feedBaseURL,
		detailBaseURL: detailBaseURL,
		client:        hedgedhttp.NewClient(hedgeAfter, 2, base),
		log:           log,
	}
}

type feedItem struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Customer        string  `json:"customer"`
	CustomerINN     string  `json:"customer_inn"`
	Price           int64   `json:"price"`
	ProcurementType string  `json:"type"`
	LawType         string  `json:"law_type"`
	PublishedAt     string  `json:"pub_date"`
	Deadline        *string `json:"deadline,omitempty"`
	Region          string  `json:"region,omitempty"`
	DetailURL       string  `json:"detail_url"`
}

// deliveryTitlePrefixes mirrors matcher.looksLikeDeliveryOnlyTitle, which is
// unexported; this client-side filter runs before the tender ever reaches
// the matcher.
var deliveryTitlePrefixes = []string{"доставка", "перевозка", "транспортировка"}

// Poll implements Source. Client-side type filtering applies the "goods"
// workaround of spec §4.2: when the caller is narrowing to goods and the
// feed's type metadata is empty/ambiguous, titles that read as pure delivery
// listings are dropped before they ever reach SmartMatcher.
func (s *HTTPFeedSource) Poll(ctx context.Context, q Query) *Cursor {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedBaseURL, nil)
	if err != nil {
		return &Cursor{err: pipelineerr.TransientExternal("feed.poll", fmt.Errorf("build feed request: %w", err))}
	}
	query := req.URL.Query()
	for _, kw := range q.Keywords {
		query.Add("kw", kw)
	}
	if q.PriceMin != nil {
		query.Set("price_min", strconv.FormatInt(*q.PriceMin, 10))
	}
	if q.PriceMax != nil {
		query.Set("price_max", strconv.FormatInt(*q.PriceMax, 10))
	}
	if q.LawType != "" && q.LawType != model.LawAny {
		query.Set("law_type", string(q.LawType))
	}
	req.URL.RawQuery = query.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return &Cursor{err: pipelineerr.TransientExternal("feed.poll", fmt.Errorf("poll feed: %w", err))}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &Cursor{err: pipelineerr.TransientExternal("feed.poll", fmt.Errorf("poll feed: unexpected status %d", resp.StatusCode))}
	}

	var items []feedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return &Cursor{err: pipelineerr.TransientExternal("feed.poll", fmt.Errorf("decode feed response: %w", err))}
	}

	tenders := make([]model.Tender, 0, len(items))
	for _, it := range items {
		if q.TypeHint == model.TenderGoods && it.ProcurementType == "" && looksLikeDelivery(it.Title) {
			continue
		}
		tenders = append(tenders, toTender(it))
	}
	return &Cursor{items: tenders}
}

func looksLikeDelivery(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range deliveryTitlePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func toTender(it feedItem) model.Tender {
	tn := model.Tender{
		ID:              it.ID,
		CustomerName:    it.Customer,
		CustomerINN:     it.CustomerINN,
		Title:           it.Title,
		Description:     it.Description,
		DeclaredPrice:   it.Price,
		ProcurementType: model.TenderType(it.ProcurementType),
		LawType:         model.LawType(it.LawType),
		PerformanceRegion: it.Region,
	}
	if t, err := time.Parse(time.RFC3339, it.PublishedAt); err == nil {
		tn.PublishedAt = t
	}
	if it.Deadline != nil {
		if t, err := time.Parse(time.RFC3339, *it.Deadline); err == nil {
			tn.SubmissionDeadline = &t
		}
	}
	tn.SourceURL = it.DetailURL
	return tn
}

var (
	priceRe    = regexp.MustCompile(`(?i)(начальн[а-яё]*\s+цена|нмцк)[^0-9]{0,40}([\d\s.,]+)`)
	deadlineRe = regexp.MustCompile(`(?i)срок\s+подачи[^0-9]{0,40}(\d{2}\.\d{2}\.\d{4})`)
	innTailRe  = regexp.MustCompile(`ИНН\s*[:№]?\s*(\d{10}|\d{12})`)
)

// Enrich implements Source. Every failure mode (timeout, non-2xx, malformed
// body) yields a partial record carrying whatever the feed already knew,
// never a pipeline-failing error (spec §4.2 "does not fail the pipeline").
func (s *HTTPFeedSource) Enrich(ctx context.Context, raw model.Tender) model.Tender {
	enriched := &model.EnrichedFields{}
	out := raw
	out.Enriched = enriched

	if raw.SourceURL == "" {
		enriched.Partial = true
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw.SourceURL, nil)
	if err != nil {
		s.log.WithError(err).Warn("enrichment request build failed, returning partial record")
		enriched.Partial = true
		return out
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).Warn("enrichment fetch failed, returning partial record")
		enriched.Partial = true
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		s.log.WithField("status", resp.StatusCode).Warn("enrichment detail page non-2xx, returning partial record")
		enriched.Partial = true
		return out
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.log.WithError(err).Warn("enrichment body read failed, returning partial record")
		enriched.Partial = true
		return out
	}
	text := string(body)

	if m := priceRe.FindStringSubmatch(text); m != nil {
		if price, ok := parsePrice(m[2]); ok {
			enriched.PrecisePrice = &price
		}
	}
	if m := deadlineRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("02.01.2006", m[1]); err == nil {
			enriched.SubmissionDeadline = &t
		}
	}

	enriched.CustomerRegion = s.resolveRegion(raw, text)
	enriched.DetailFingerprint = fingerprint(text)
	return out
}

// resolveRegion tries, in order: the customer name, then from_inn (the feed's
// INN, else one found on the detail page), then the feed's performance-region
// text. Address fields on the detail page are not parsed.
func (s *HTTPFeedSource) resolveRegion(raw model.Tender, detailText string) *string {
	if canon := region.Normalise(raw.CustomerName); canon != "" {
		return &canon
	}
	inn := raw.CustomerINN
	if inn == "" {
		if m := innTailRe.FindStringSubmatch(detailText); m != nil {
			inn = m[1]
		}
	}
	if inn != "" {
		if canon := region.FromINN(inn); canon != "" {
			return &canon
		}
	}
	if raw.PerformanceRegion != "" {
		if canon := region.Normalise(raw.PerformanceRegion); canon != "" {
			return &canon
		}
	}
	return nil
}

func parsePrice(raw string) (int64, bool) {
	cleaned := strings.NewReplacer(" ", "", " ", "", ",", ".").Replace(strings.TrimSpace(raw))
	if idx := strings.Index(cleaned, "."); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func fingerprint(text string) string {
	if len(text) <= 64 {
		return text
	}
	return text[:64]
}
