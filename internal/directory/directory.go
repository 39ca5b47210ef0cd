// Package directory reads the subscriber/filter relations of spec §6 and
// supplies pipeline.Directory: the set of active filter groups for one
// cycle, backed by Postgres via jackc/pgx and jmoiron/sqlx.
package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/pipeline"
)

// Directory is the Postgres-backed pipeline.Directory.
type Directory struct {
	db *sqlx.DB
}

// New builds a Directory over db.
func New(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

type filterRow struct {
	ID                string `db:"id"`
	SubscriberID      string `db:"subscriber_id"`
	Name              string `db:"name"`
	Keywords          []byte `db:"keywords"`
	ExcludeKeywords   []byte `db:"exclude_keywords"`
	PrimaryKeywords   []byte `db:"primary_keywords"`
	SecondaryKeywords []byte `db:"secondary_keywords"`
	ExpandedKeywords  []byte `db:"expanded_keywords"`
	Regions           []byte `db:"regions"`
	PriceMin          *int64 `db:"price_min"`
	PriceMax          *int64 `db:"price_max"`
	TenderTypes       []byte `db:"tender_types"`
	LawType           string `db:"law_type"`
	AIIntent          string `db:"ai_intent"`
	AIIntentVersion   int    `db:"ai_intent_version"`
	MinDeadlineDays   int    `db:"min_deadline_days"`
	NotifyChatIDs     []byte `db:"notify_chat_ids"`

	SubChatID          string `db:"sub_chat_id"`
	SubTier            string `db:"sub_tier"`
	SubQuietStart      string `db:"sub_quiet_start"`
	SubQuietEnd        string `db:"sub_quiet_end"`
	SubTZ              string `db:"sub_tz"`
	SubDeliveryBlocked bool   `db:"sub_delivery_blocked"`
}

// ActiveFilterGroups implements pipeline.Directory: every filter with
// is_active=true and deleted_at null, joined to its owning subscriber.
func (d *Directory) ActiveFilterGroups(ctx context.Context) ([]pipeline.FilterGroup, error) {
	var rows []filterRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT
			f.id, f.subscriber_id, f.name,
			f.keywords, f.exclude_keywords, f.primary_keywords, f.secondary_keywords,
			f.expanded_keywords, f.regions, f.price_min, f.price_max, f.tender_types,
			f.law_type, f.ai_intent, f.ai_intent_version, f.min_deadline_days, f.notify_chat_ids,
			s.chat_id AS sub_chat_id, s.tier AS sub_tier, s.quiet_start AS sub_quiet_start,
			s.quiet_end AS sub_quiet_end, s.tz AS sub_tz, s.delivery_blocked AS sub_delivery_blocked
		FROM filter f
		JOIN subscriber s ON s.id = f.subscriber_id
		WHERE f.is_active = true AND f.deleted_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query active filter groups: %w", err)
	}

	groups := make([]pipeline.FilterGroup, 0, len(rows))
	for _, r := range rows {
		f, err := toFilter(r)
		if err != nil {
			return nil, fmt.Errorf("decode filter %s: %w", r.ID, err)
		}
		groups = append(groups, pipeline.FilterGroup{
			Subscriber: model.Subscriber{
				ID:              r.SubscriberID,
				ChatID:          r.SubChatID,
				Tier:            model.Tier(r.SubTier),
				QuietStart:      r.SubQuietStart,
				QuietEnd:        r.SubQuietEnd,
				TZ:              r.SubTZ,
				DeliveryBlocked: r.SubDeliveryBlocked,
			},
			Filter: f,
		})
	}
	return groups, nil
}

func toFilter(r filterRow) (model.Filter, error) {
	f := model.Filter{
		ID:              r.ID,
		SubscriberID:    r.SubscriberID,
		Name:            r.Name,
		IsActive:        true,
		PriceMin:        r.PriceMin,
		PriceMax:        r.PriceMax,
		LawType:         model.LawType(r.LawType),
		AIIntent:        r.AIIntent,
		AIIntentVersion: r.AIIntentVersion,
		MinDeadlineDays: r.MinDeadlineDays,
	}
	decoders := []struct {
		raw []byte
		dst any
	}{
		{r.Keywords, &f.Keywords},
		{r.ExcludeKeywords, &f.ExcludeKeywords},
		{r.PrimaryKeywords, &f.PrimaryKeywords},
		{r.SecondaryKeywords, &f.SecondaryKeywords},
		{r.ExpandedKeywords, &f.ExpandedKeywords},
		{r.Regions, &f.Regions},
		{r.NotifyChatIDs, &f.NotifyChatIDs},
	}
	for _, dec := range decoders {
		if len(dec.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(dec.raw, dec.dst); err != nil {
			return model.Filter{}, err
		}
	}
	if len(r.TenderTypes) > 0 {
		if err := json.Unmarshal(r.TenderTypes, &f.TenderTypes); err != nil {
			return model.Filter{}, err
		}
	}
	return f, nil
}
