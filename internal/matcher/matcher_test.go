package matcher_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/tenderwatch/internal/matcher"
	"github.com/dataparency-dev/tenderwatch/internal/model"
)

func fixedNow(t time.Time) matcher.Config {
	return matcher.Config{NullRegionPolicy: model.NullRegionPenalise, Now: func() time.Time { return t }}
}

// S1 — basic match & send, from the scenario table: a goods tender inside
// the price band and region, scored after enrichment.
func TestScoreFullMatchAccepts(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := model.Filter{
		ID:              "F1",
		Keywords:        []string{"ноутбук"},
		PrimaryKeywords: []string{"ноутбук"},
		Regions:         []string{"Москва"},
		PriceMin:        int64Ptr(500000),
		PriceMax:        int64Ptr(2000000),
		TenderTypes:     []model.TenderType{model.TenderGoods},
		LawType:         model.Law44FZ,
		MinDeadlineDays: 5,
	}
	deadline := now.AddDate(0, 0, 10)
	region := "Москва"
	tn := model.Tender{
		ID:              "0372-1",
		Title:           "Поставка ноутбук HP",
		CustomerName:    "ГБУ г. Москва",
		DeclaredPrice:   1200000,
		ProcurementType: model.TenderGoods,
		LawType:         model.Law44FZ,
		PublishedAt:     now.AddDate(0, 0, -2),
		Enriched: &model.EnrichedFields{
			CustomerRegion:     &region,
			SubmissionDeadline: &deadline,
		},
	}

	report := matcher.Score(tn, f, matcher.StageFull, fixedNow(now))
	assert.Equal(t, model.ClassAccept, report.Classification)
	assert.Greater(t, report.Score, 0)
	assert.Empty(t, report.RejectCause)
}

// S3 — region reject: enrichment resolves a region outside the filter's set.
func TestScoreRegionMismatchRejects(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := model.Filter{
		Keywords:    []string{"ноутбук"},
		Regions:     []string{"Москва"},
		TenderTypes: []model.TenderType{model.TenderGoods},
	}
	region := "Республика Татарстан"
	tn := model.Tender{
		Title:           "Поставка ноутбуков",
		ProcurementType: model.TenderGoods,
		Enriched:        &model.EnrichedFields{CustomerRegion: &region},
	}

	report := matcher.Score(tn, f, matcher.StageFull, fixedNow(now))
	require.Equal(t, model.ClassReject, report.Classification)
	assert.Equal(t, "region", report.RejectCause)
	assert.Equal(t, 0, report.Score)
}

func TestScoreExcludeKeywordHardRejects(t *testing.T) {
	f := model.Filter{
		Keywords:        []string{"ноутбук"},
		ExcludeKeywords: []string{"б/у"},
	}
	tn := model.Tender{Title: "Поставка ноутбуков б/у"}

	report := matcher.Score(tn, f, matcher.StagePre, matcher.Config{})
	assert.Equal(t, model.ClassReject, report.Classification)
	assert.Equal(t, "exclude_keyword", report.RejectCause)
}

func TestScoreTypeMismatchRejects(t *testing.T) {
	f := model.Filter{TenderTypes: []model.TenderType{model.TenderServices}}
	tn := model.Tender{Title: "Поставка ноутбуков", ProcurementType: model.TenderGoods}

	report := matcher.Score(tn, f, matcher.StagePre, matcher.Config{})
	assert.Equal(t, "type", report.RejectCause)
}

func TestScoreDeliveryTitleWorkaroundRejectsAmbiguousGoods(t *testing.T) {
	f := model.Filter{TenderTypes: []model.TenderType{model.TenderGoods}}
	tn := model.Tender{Title: "Доставка продуктов питания", ProcurementType: ""}

	report := matcher.Score(tn, f, matcher.StagePre, matcher.Config{})
	assert.Equal(t, "type", report.RejectCause)
}

func TestScoreShortKeywordOnlyMatchesWhitelistedWordBoundary(t *testing.T) {
	f := model.Filter{Keywords: []string{"ит"}}
	tn := model.Tender{Title: "Закупка компьютеров для кредита"} // contains "ит" inside "кредита"

	report := matcher.Score(tn, f, matcher.StagePre, matcher.Config{})
	assert.Empty(t, report.MatchedKeywords)
}

func TestScoreStopWordNeverContributes(t *testing.T) {
	f := model.Filter{Keywords: []string{"поставка"}}
	tn := model.Tender{Title: "Поставка оборудования"}

	report := matcher.Score(tn, f, matcher.StagePre, matcher.Config{})
	assert.Equal(t, 0, report.Score)
}

func TestScoreNullRegionPolicyPenalise(t *testing.T) {
	f := model.Filter{
		Keywords:    []string{"компьютерное оборудование"},
		Regions:     []string{"Москва"},
		TenderTypes: []model.TenderType{model.TenderGoods},
	}
	tn := model.Tender{
		Title:           "компьютерное оборудование",
		ProcurementType: model.TenderGoods,
		Enriched:        &model.EnrichedFields{}, // region unresolved
	}

	report := matcher.Score(tn, f, matcher.StageFull, matcher.Config{NullRegionPolicy: model.NullRegionPenalise})
	assert.Equal(t, model.ClassConsider, report.Classification)
	assert.Less(t, report.Score, 35)
}

func TestScoreDeadlineTooSoonRejects(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	f := model.Filter{MinDeadlineDays: 10}
	deadline := now.AddDate(0, 0, 2)
	tn := model.Tender{
		Title:    "тест",
		Enriched: &model.EnrichedFields{SubmissionDeadline: &deadline},
	}

	report := matcher.Score(tn, f, matcher.StageFull, fixedNow(now))
	assert.Equal(t, "deadline", report.RejectCause)
}

func int64Ptr(v int64) *int64 { return &v }
