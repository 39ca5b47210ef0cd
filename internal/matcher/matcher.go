// Package matcher implements SmartMatcher (spec §4.3): the deterministic
// scoring of a tender against a filter, run twice per cycle (pre-score on
// feed-only fields, full-score once enriched).
package matcher

import (
	"regexp"
	"strings"
	"time"

	"github.com/dataparency-dev/tenderwatch/internal/model"
)

// shortKeywordWhitelist lists keywords under 3 characters that are still
// scored, but only as an exact, word-boundary match — never as a root.
var shortKeywordWhitelist = map[string]bool{
	"по": true, "it": true, "ит": true, "ибп": true, "ас": true, "бд": true,
	"ос": true, "пк": true, "схд": true, "мфу": true, "эвм": true, "си": true,
}

// stopWords never contribute positive score even if listed as a keyword.
var stopWords = map[string]bool{
	"поставка": true, "услуга": true, "услуги": true, "закупка": true,
	"система": true, "оказание": true, "выполнение": true, "работа": true,
	"работы": true, "товар": true, "товары": true, "поставщик": true,
	"исполнитель": true, "контракт": true, "договор": true, "заказчик": true,
	"предмет": true, "объект": true,
}

// negativePatterns is the ~68-phrase list of niche domains spec §4.3 calls
// out (military, medical, construction) that each cost -5, capped at -30.
var negativePatterns = []string{
	"военн", "оборон", "вооружен", "боеприпас", "артиллер", "танк", "армия",
	"медицин", "больниц", "поликлиник", "фармацевт", "лекарств", "вакцин",
	"хирург", "стоматолог", "реанимац", "диагностик", "протез",
	"строительств", "капитальн ремонт", "реконструкц", "кровл", "фундамент",
	"кирпич", "бетон", "асфальт", "дорожн покрытие", "электромонтаж",
	"сантехник", "отопление", "вентиляц", "канализац", "газопровод",
	"водопровод", "теплотрасс", "кладбищ", "ритуальн", "морг", "крематор",
	"колония", "тюрьм", "исправительн учрежден", "конвой", "наручник",
	"психиатрическ", "нарколог", "инфекционн", "туберкулез", "онколог",
	"радиоактивн", "ядерн", "химическ оружие", "взрывчат", "пиротехник",
	"стрелков оружие", "патрон", "снаряд", "бронежилет", "каска военн",
	"полигон", "казарм", "гауптвахт", "военкомат", "мобилизац",
	"ветеринар", "скотомогильник", "убойн цех", "мясокомбинат",
	"кладбищенск", "похорон",
}

// Config tunes the thresholds and policy that spec §4/§5 mark as configurable.
type Config struct {
	NullRegionPolicy model.NullRegionPolicy
	Now              func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

var compoundKeywordRe = regexp.MustCompile(`\s+`)

// Score runs the full SmartMatcher algorithm of spec §4.3 against the given
// tender and filter. stage distinguishes pre-score (feed-only fields) from
// full-score (after enrichment) — pre-score mode never consults region or
// precise price, matching spec §4.3 "the pre-score mode contributes only
// keyword- and title-derived signals".
type Stage int

const (
	StagePre Stage = iota
	StageFull
)

func Score(tn model.Tender, f model.Filter, stage Stage, cfg Config) model.ScoreReport {
	report := model.ScoreReport{TenderID: tn.ID, FilterID: f.ID}

	// Type decision — hard reject.
	if !containsTenderType(f.TenderTypes, tn.ProcurementType) {
		return reject(report, "type")
	}
	if f.TenderTypes != nil && len(f.TenderTypes) == 1 && f.TenderTypes[0] == model.TenderGoods {
		if looksLikeDeliveryOnlyTitle(tn.Title) && tn.ProcurementType == "" {
			return reject(report, "type")
		}
	}

	// Law-type decision.
	if f.LawType != model.LawAny && f.LawType != "" && tn.LawType != "" && f.LawType != tn.LawType {
		return reject(report, "law_type")
	}

	text := strings.ToLower(tn.CombinedText())

	exclude, matched := scoreKeywords(text, f)
	if exclude {
		return reject(report, "exclude_keyword")
	}

	positive := matched.total
	report.MatchedKeywords = matched.names

	strict := len(f.Keywords) >= 8
	if strict {
		// < 10% of the filter's keywords matched exactly
		if matched.exactCount*10 < len(f.Keywords) {
			positive = int(float64(positive) * 0.6)
		}
	}

	negPenalty := 0
	for _, p := range negativePatterns {
		if strings.Contains(text, p) {
			negPenalty += 5
			if negPenalty >= 30 {
				negPenalty = 30
				break
			}
		}
	}
	positive -= negPenalty

	if stage == StageFull {
		priceDelta, rejectPrice := priceContribution(tn.Price(), f)
		if rejectPrice {
			return reject(report, "price")
		}
		positive += priceDelta

		if len(f.Regions) > 0 {
			region := tn.Region()
			switch {
			case region == nil:
				switch cfg.NullRegionPolicy {
				case model.NullRegionReject:
					return reject(report, "region")
				case model.NullRegionPenalise:
					positive -= 20
				case model.NullRegionPassThrough:
					// no adjustment
				}
			case containsRegion(f.Regions, *region):
				positive += 10
			default:
				return reject(report, "region")
			}
		}

		if deadline := tn.Deadline(); deadline != nil {
			days := int(deadline.Sub(cfg.now()).Hours() / 24)
			if days < f.MinDeadlineDays {
				return reject(report, "deadline")
			}
		}
	}

	if positive < 0 {
		positive = 0
	}
	if positive > 100 {
		positive = 100
	}

	report.Score = positive
	switch {
	case positive >= 60:
		report.Classification = model.ClassAccept
	case positive > 0:
		report.Classification = model.ClassConsider
	default:
		report.Classification = model.ClassReject
	}
	return report
}

func reject(report model.ScoreReport, cause string) model.ScoreReport {
	report.Score = 0
	report.Classification = model.ClassReject
	report.RejectCause = cause
	return report
}

func containsTenderType(types []model.TenderType, want model.TenderType) bool {
	if len(types) == 0 {
		return true
	}
	if want == "" {
		return true // feed omitted procurement-type metadata; don't hard-reject on absence alone
	}
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// looksLikeDeliveryOnlyTitle matches the empirically known zakupki feed
// defect of spec §4.2/§4.3: titles beginning with a "delivery" word despite
// being filed as "goods" when the type metadata itself is ambiguous.
func looksLikeDeliveryOnlyTitle(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, prefix := range []string{"доставка", "перевозка", "транспортировка"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func containsRegion(regions []string, region string) bool {
	for _, r := range regions {
		if r == region {
			return true
		}
	}
	return false
}

type keywordMatch struct {
	total      int
	exactCount int
	names      []string
}

func scoreKeywords(text string, f model.Filter) (excluded bool, m keywordMatch) {
	for _, kw := range f.ExcludeKeywords {
		if keywordHits(text, kw) {
			return true, keywordMatch{}
		}
	}

	primary := toSet(f.PrimaryKeywords)
	secondary := toSet(f.SecondaryKeywords)

	score := func(kw string, base int, exact bool) {
		weight := 1
		if primary[kw] {
			weight = 2
		} else if secondary[kw] {
			weight = 1
		}
		m.total += base * weight
		if exact {
			m.exactCount++
		}
		m.names = append(m.names, kw)
	}

	for _, kw := range f.Keywords {
		contrib, exact, ok := keywordContribution(text, kw)
		if !ok {
			continue
		}
		score(kw, contrib, exact)
	}
	for _, kw := range f.ExpandedKeywords {
		if keywordHits(text, kw) {
			score(kw, 20, false)
		}
	}
	return false, m
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

// keywordContribution returns the score contribution of a single filter
// keyword against text, whether it was an exact match, and whether it
// contributed at all (stop-words and too-short non-whitelisted keywords
// never contribute).
func keywordContribution(text, kw string) (contribution int, exact bool, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(kw))
	if lower == "" {
		return 0, false, false
	}
	if stopWords[lower] {
		return 0, false, false
	}

	isCompound := len(compoundKeywordRe.Split(lower, -1)) > 1
	if isCompound {
		if strings.Contains(text, lower) {
			return 35, true, true
		}
		return 0, false, false
	}

	if len([]rune(lower)) < 3 {
		if !shortKeywordWhitelist[lower] {
			return 0, false, false
		}
		if wordBoundaryMatch(text, lower) {
			return 25, true, true
		}
		return 0, false, false
	}

	if wordBoundaryMatch(text, lower) {
		return 25, true, true
	}

	root := lower
	if len([]rune(root)) > 5 {
		root = string([]rune(root)[:5])
	}
	if len([]rune(root)) >= 5 && strings.Contains(text, root) {
		return 18, false, true
	}
	return 0, false, false
}

func keywordHits(text, kw string) bool {
	lower := strings.ToLower(strings.TrimSpace(kw))
	if lower == "" {
		return false
	}
	return strings.Contains(text, lower)
}

func wordBoundaryMatch(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isWordRune(rune(text[start-1]))
		afterOK := end == len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' ||
		(r >= 0x80) // treat any multi-byte (Cyrillic) continuation byte as "word"
}

// priceContribution returns the price signal of spec §4.3's table. Its
// reject result is always false: a price more than 20% outside the band
// scores -20 instead of rejecting, and with neither bound set price never
// scores.
func priceContribution(price int64, f model.Filter) (contribution int, reject bool) {
	if f.PriceMin == nil && f.PriceMax == nil {
		return 0, false
	}
	min, max := int64(0), int64(1<<62)
	if f.PriceMin != nil {
		min = *f.PriceMin
	}
	if f.PriceMax != nil {
		max = *f.PriceMax
	}
	if price >= min && price <= max {
		return 20, false
	}

	band := max - min
	if band <= 0 {
		band = min
	}
	tolerance := int64(float64(band) * 0.20)

	var distance int64
	if price < min {
		distance = min - price
	} else {
		distance = price - max
	}
	if distance <= tolerance {
		return 10, false
	}
	return -20, false
}
