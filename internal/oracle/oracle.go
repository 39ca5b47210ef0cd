// Package oracle implements RelevanceOracle (spec §4.4): semantic
// verification of a (tender, filter-intent) pair by a hosted language model,
// cached by hash(tender-id, filter_intent_version) through internal/cache.
package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sirupsen/logrus"

	"github.com/dataparency-dev/tenderwatch/internal/cache"
	"github.com/dataparency-dev/tenderwatch/internal/model"
)

// Decision is the oracle's verdict for one assessment.
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionRecheck Decision = "RECHECK" // treated as REJECT for notification purposes; no re-run is attempted
	DecisionReject  Decision = "REJECT"
	DecisionUnknown Decision = "UNKNOWN" // quota exhausted or transport error; never boosts, never caches
)

// Assessment is the result of one assess call.
type Assessment struct {
	Confidence *int // nil iff Decision == DecisionUnknown
	Decision   Decision
}

// Boost returns the SmartMatcher score boost this assessment contributes,
// per spec §4.4: ≥60 confidence adds 15, [40,60) adds 10, anything else
// (including UNKNOWN) adds nothing.
func (a Assessment) Boost() int {
	if a.Confidence == nil {
		return 0
	}
	switch {
	case *a.Confidence >= 60:
		return 15
	case *a.Confidence >= 40:
		return 10
	default:
		return 0
	}
}

func classify(confidence int) Decision {
	switch {
	case confidence >= 40:
		return DecisionAccept
	case confidence < 25:
		return DecisionReject
	default:
		return DecisionRecheck
	}
}

// Oracle is the RelevanceOracle contract. Implementations must never convert
// a transport failure into a numeric confidence — callers rely on UNKNOWN
// being distinguishable from a genuine low score.
type Oracle interface {
	Assess(ctx context.Context, tn model.Tender, f model.Filter) Assessment
}

type intentPayload struct {
	Tender struct {
		Title       string  `json:"title"`
		Description string  `json:"description,omitempty"`
		Customer    string  `json:"customer"`
		Region      *string `json:"region,omitempty"`
	} `json:"tender"`
	Intent struct {
		Text    string `json:"text"`
		Version int    `json:"version"`
	} `json:"intent"`
}

type modelResponse struct {
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// AnthropicOracle is the concrete RelevanceOracle backed by a hosted model.
type AnthropicOracle struct {
	client *anthropic.Client
	model  anthropic.Model
	cache  *cache.Cache
	log    logrus.FieldLogger
}

// New builds an AnthropicOracle. client is the already-configured SDK client
// (API key, base URL resolved by the caller from internal/config); model is
// the configured model name (spec §6 "oracle model name").
func New(client *anthropic.Client, model anthropic.Model, c *cache.Cache, log logrus.FieldLogger) *AnthropicOracle {
	return &AnthropicOracle{client: client, model: model, cache: c, log: log}
}

// CacheKey returns hash(tender-id, filter_intent_version), the stable key
// spec §4.4 requires so a changed intent never serves a stale confidence.
func CacheKey(tenderID string, intentVersion int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d", tenderID, intentVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// Assess implements Oracle. A cache hit short-circuits the model call
// entirely; only genuine ACCEPT/RECHECK/REJECT confidences are ever cached —
// UNKNOWN (quota-exhausted or transport failure) is never written, so the
// next cycle retries rather than freezing a failure.
func (o *AnthropicOracle) Assess(ctx context.Context, tn model.Tender, f model.Filter) Assessment {
	key := CacheKey(tn.ID, f.AIIntentVersion)

	var cached modelResponse
	if o.cache.GetJSON(ctx, model.CacheOracle, key, &cached) {
		return Assessment{Confidence: &cached.Confidence, Decision: classify(cached.Confidence)}
	}

	payload := buildPayload(tn, f)
	raw, err := json.Marshal(payload)
	if err != nil {
		o.log.WithError(err).Warn("oracle payload marshal failed, treating as UNKNOWN")
		return Assessment{Decision: DecisionUnknown}
	}

	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     o.model,
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				"Assess the relevance of this procurement tender to the given subscriber intent. " +
					"Respond with a JSON object {\"confidence\": 0-100, \"reasoning\": \"...\"} and nothing else.\n\n" +
					string(raw),
			)),
		},
	})
	if err != nil {
		o.log.WithError(err).Warn("oracle transport error, treating as UNKNOWN for this tender")
		return Assessment{Decision: DecisionUnknown}
	}

	resp, ok := parseResponse(msg)
	if !ok {
		o.log.Warn("oracle response did not parse as a confidence payload, treating as UNKNOWN")
		return Assessment{Decision: DecisionUnknown}
	}

	if err := o.cache.SetJSON(ctx, model.CacheOracle, key, resp); err != nil {
		o.log.WithError(err).Warn("oracle cache write failed, result still returned for this call")
	}

	confidence := resp.Confidence
	return Assessment{Confidence: &confidence, Decision: classify(confidence)}
}

func buildPayload(tn model.Tender, f model.Filter) intentPayload {
	var p intentPayload
	title := tn.Title
	if tn.Enriched != nil && tn.Enriched.Title != "" {
		title = tn.Enriched.Title
	}
	p.Tender.Title = title
	p.Tender.Description = tn.Description
	p.Tender.Customer = tn.CustomerName
	p.Tender.Region = tn.Region()
	p.Intent.Text = f.AIIntent
	p.Intent.Version = f.AIIntentVersion
	return p
}

func parseResponse(msg *anthropic.Message) (modelResponse, bool) {
	for _, block := range msg.Content {
		text := block.Text
		if text == "" {
			continue
		}
		var resp modelResponse
		if err := json.Unmarshal([]byte(text), &resp); err == nil {
			return resp, true
		}
	}
	return modelResponse{}, false
}
