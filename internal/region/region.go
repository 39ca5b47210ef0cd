// Package region implements RegionRegistry (spec §4.1): the canonical set of
// the 85 federal subjects, federal-district membership, text normalisation
// and INN-prefix fallback. This is pure stdlib (strings/regexp/unicode) — no
// library in the reference corpus performs Russian address-noise stripping
// or federal-subject alias resolution, so unlike the rest of the module this
// package is deliberately dependency-free; see DESIGN.md for the standing
// justification.
package region

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical is the fixed set of the 85 Russian federal subjects, in the
// spelling the pipeline stores on an enriched tender.
var Canonical = []string{
	"Республика Адыгея", "Республика Алтай", "Республика Башкортостан",
	"Республика Бурятия", "Республика Дагестан", "Республика Ингушетия",
	"Кабардино-Балкарская Республика", "Республика Калмыкия",
	"Карачаево-Черкесская Республика", "Республика Карелия", "Республика Коми",
	"Республика Крым", "Республика Марий Эл", "Республика Мордовия",
	"Республика Саха (Якутия)", "Республика Северная Осетия — Алания",
	"Республика Татарстан", "Республика Тыва", "Удмуртская Республика",
	"Республика Хакасия", "Чеченская Республика", "Чувашская Республика",
	"Алтайский край", "Забайкальский край", "Камчатский край",
	"Краснодарский край", "Красноярский край", "Пермский край",
	"Приморский край", "Ставропольский край", "Хабаровский край",
	"Амурская область", "Архангельская область", "Астраханская область",
	"Белгородская область", "Брянская область", "Владимирская область",
	"Волгоградская область", "Вологодская область", "Воронежская область",
	"Ивановская область", "Иркутская область", "Калининградская область",
	"Калужская область", "Кемеровская область", "Кировская область",
	"Костромская область", "Курганская область", "Курская область",
	"Ленинградская область", "Липецкая область", "Магаданская область",
	"Московская область", "Мурманская область", "Нижегородская область",
	"Новгородская область", "Новосибирская область", "Омская область",
	"Оренбургская область", "Орловская область", "Пензенская область",
	"Псковская область", "Ростовская область", "Рязанская область",
	"Самарская область", "Саратовская область", "Сахалинская область",
	"Свердловская область", "Смоленская область", "Тамбовская область",
	"Тверская область", "Томская область", "Тульская область",
	"Тюменская область", "Ульяновская область", "Челябинская область",
	"Ярославская область",
	"Москва", "Санкт-Петербург", "Севастополь",
	"Еврейская автономная область",
	"Ненецкий автономный округ", "Ханты-Мансийский автономный округ — Югра",
	"Чукотский автономный округ", "Ямало-Ненецкий автономный округ",
}

var canonicalSet = func() map[string]bool {
	m := make(map[string]bool, len(Canonical))
	for _, c := range Canonical {
		m[c] = true
	}
	return m
}()

// IsCanonical reports whether name is one of the 85 federal subjects.
func IsCanonical(name string) bool { return canonicalSet[name] }

// districts maps a federal district's informal name to its member subjects.
var districts = map[string][]string{
	"центральный федеральный округ": {
		"Белгородская область", "Брянская область", "Владимирская область",
		"Воронежская область", "Ивановская область", "Калужская область",
		"Костромская область", "Курская область", "Липецкая область",
		"Московская область", "Орловская область", "Рязанская область",
		"Смоленская область", "Тамбовская область", "Тверская область",
		"Тульская область", "Ярославская область", "Москва",
	},
	"северо-западный федеральный округ": {
		"Республика Карелия", "Республика Коми", "Архангельская область",
		"Вологодская область", "Калининградская область", "Ленинградская область",
		"Мурманская область", "Новгородская область", "Псковская область",
		"Санкт-Петербург", "Ненецкий автономный округ",
	},
	"южный федеральный округ": {
		"Республика Адыгея", "Республика Калмыкия", "Республика Крым",
		"Краснодарский край", "Астраханская область", "Волгоградская область",
		"Ростовская область", "Севастополь",
	},
	"северо-кавказский федеральный округ": {
		"Республика Дагестан", "Республика Ингушетия",
		"Кабардино-Балкарская Республика", "Карачаево-Черкесская Республика",
		"Республика Северная Осетия — Алания", "Чеченская Республика",
		"Ставропольский край",
	},
	"приволжский федеральный округ": {
		"Республика Башкортостан", "Республика Марий Эл",
		"Республика Мордовия", "Республика Татарстан",
		"Удмуртская Республика", "Чувашская Республика",
		"Кировская область", "Нижегородская область", "Оренбургская область",
		"Пензенская область", "Пермский край", "Самарская область",
		"Саратовская область", "Ульяновская область",
	},
	"уральский федеральный округ": {
		"Курганская область", "Свердловская область", "Тюменская область",
		"Челябинская область", "Ханты-Мансийский автономный округ — Югра",
		"Ямало-Ненецкий автономный округ",
	},
	"сибирский федеральный округ": {
		"Республика Алтай", "Республика Тыва", "Республика Хакасия",
		"Алтайский край", "Забайкальский край", "Красноярский край",
		"Иркутская область", "Кемеровская область", "Новосибирская область",
		"Омская область", "Томская область",
	},
	"дальневосточный федеральный округ": {
		"Республика Бурятия", "Республика Саха (Якутия)", "Камчатский край",
		"Приморский край", "Хабаровский край", "Амурская область",
		"Магаданская область", "Сахалинская область",
		"Еврейская автономная область", "Чукотский автономный округ",
	},
}

// aliases maps a normalised informal/abbreviated spelling to its canonical name.
var aliases = map[string]string{
	"москва":                 "Москва",
	"г москва":               "Москва",
	"г.москва":               "Москва",
	"спб":                    "Санкт-Петербург",
	"санкт петербург":        "Санкт-Петербург",
	"питер":                  "Санкт-Петербург",
	"татарстан":              "Республика Татарстан",
	"рт":                     "Республика Татарстан",
	"башкирия":               "Республика Башкортостан",
	"башкортостан":           "Республика Башкортостан",
	"якутия":                 "Республика Саха (Якутия)",
	"саха якутия":            "Республика Саха (Якутия)",
	"югра":                   "Ханты-Мансийский автономный округ — Югра",
	"хмао":                   "Ханты-Мансийский автономный округ — Югра",
	"хмао югра":              "Ханты-Мансийский автономный округ — Югра",
	"янао":                   "Ямало-Ненецкий автономный округ",
	"ямал":                   "Ямало-Ненецкий автономный округ",
	"подмосковье":            "Московская область",
	"кубань":                 "Краснодарский край",
	"чувашия":                "Чувашская Республика",
	"удмуртия":               "Удмуртская Республика",
	"мордовия":               "Республика Мордовия",
	"дагестан":               "Республика Дагестан",
	"чечня":                  "Чеченская Республика",
	"ингушетия":              "Республика Ингушетия",
	"кабардино балкария":     "Кабардино-Балкарская Республика",
	"карачаево черкессия":    "Карачаево-Черкесская Республика",
	"северная осетия":        "Республика Северная Осетия — Алания",
	"алания":                 "Республика Северная Осетия — Алания",
	"адыгея":                 "Республика Адыгея",
	"калмыкия":               "Республика Калмыкия",
	"карелия":                "Республика Карелия",
	"коми":                   "Республика Коми",
	"крым":                   "Республика Крым",
	"марий эл":               "Республика Марий Эл",
	"тыва":                   "Республика Тыва",
	"тува":                   "Республика Тыва",
	"хакасия":                "Республика Хакасия",
	"алтай":                  "Республика Алтай",
	"бурятия":                "Республика Бурятия",
}

// addressNoise lists address-component tokens to strip before lookup.
var addressNoise = []string{
	"ул", "улица", "пр кт", "проспект", "район", "р н", "г", "село", "пос",
	"поселок", "деревня", "дер", "область", "обл", "край", "республика",
	"респ", "автономный округ", "ао", "федеральный округ",
}

var (
	punctRe  = regexp.MustCompile(`[.,«»"'()\-–—]+`)
	spacesRe = regexp.MustCompile(`\s+`)
	postalRe = regexp.MustCompile(`\b\d{6}\b`)
)

func foldKey(raw string) string {
	s := strings.ToLower(raw)
	s = postalRe.ReplaceAllString(s, " ")
	s = punctRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// invertedOrder rewrites "<name> область/республика/край/..." into the
// canonical word order, e.g. "Бурятия Республика" → "Республика Бурятия".
var invertedSuffix = regexp.MustCompile(`^(.+?)\s+(область|республика|край|автономный округ)$`)

func rewriteInvertedOrder(s string) string {
	m := invertedSuffix.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return m[2] + " " + m[1]
}

// Normalise resolves free-text region/address input to a canonical federal
// subject name, or "" if it cannot be resolved. It never panics and never
// stores raw garbage — callers must treat "" as "unknown", per spec invariant 6.
func Normalise(raw string) string {
	if raw == "" {
		return ""
	}

	key := foldKey(raw)
	if key == "" {
		return ""
	}

	// Direct alias hit, including after inverted-order rewrite.
	if canon, ok := aliases[key]; ok {
		return canon
	}
	rewritten := rewriteInvertedOrder(key)
	if canon, ok := aliases[rewritten]; ok {
		return canon
	}

	// Direct canonical-name match, case-folded.
	for _, c := range Canonical {
		if foldKey(c) == key || foldKey(c) == rewritten {
			return c
		}
	}

	// Whole-word containment against canonical names and aliases, longest
	// candidate wins so a district substring never shadows its parent
	// oblast (e.g. "...Коркинский район Челябинской области" must resolve
	// to "Челябинская область", not reject on the district token alone).
	bestCandidate, bestCanon := "", ""
	tryMatch := func(candidate, canon string) {
		if candidate == "" {
			return
		}
		if containsWholeWords(key, candidate) && len(candidate) > len(bestCandidate) {
			bestCandidate = candidate
			bestCanon = canon
		}
	}
	for _, c := range Canonical {
		tryMatch(foldKey(c), c)
	}
	for alias, canon := range aliases {
		tryMatch(alias, canon)
	}
	if bestCanon != "" {
		return bestCanon
	}

	// Strip known address-noise tokens and retry as a last resort, but only
	// accept the retry if what remains is itself a region-shaped token —
	// this is what prevents a bare district/street name from matching.
	stripped := stripNoise(key)
	if stripped != key && stripped != "" {
		if canon, ok := aliases[stripped]; ok {
			return canon
		}
		for _, c := range Canonical {
			if foldKey(c) == stripped {
				return c
			}
		}
	}

	return ""
}

// containsWholeWords reports whether needle occurs in haystack as a
// contiguous run of whole words, tolerating Russian case declension on each
// word (a genitive "Челябинской области" must still match the nominative
// candidate "Челябинская область" — spec §4.1 "match the parent oblast").
func containsWholeWords(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	hWords := strings.Fields(haystack)
	nWords := strings.Fields(needle)
	if len(nWords) == 0 {
		return false
	}
	for i := 0; i+len(nWords) <= len(hWords); i++ {
		match := true
		for j, nw := range nWords {
			if !wordsMatch(hWords[i+j], nw) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// wordsMatch compares two space-delimited tokens, accepting a shared stem
// (same runes but for a trailing case ending) as equivalent to an exact hit.
func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}
	return wordStem(a) == wordStem(b)
}

// wordStem drops a Russian adjectival/noun case ending (typically 1-2 runes:
// -ая/-ой/-ую, -ь/-и/-е, ...) so "челябинской"/"челябинская" and
// "области"/"область" compare equal. Words short enough that stripping would
// leave nothing distinctive are returned unchanged.
func wordStem(w string) string {
	r := []rune(w)
	if len(r) <= 4 {
		return w
	}
	return string(r[:len(r)-2])
}

func stripNoise(key string) string {
	words := strings.Fields(key)
	noise := make(map[string]bool, len(addressNoise))
	for _, n := range addressNoise {
		noise[n] = true
	}
	out := words[:0:0]
	for _, w := range words {
		if !noise[w] {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// ExpandDistrict expands a federal-district name to every member subject.
// Returns nil if name is not a recognised federal district.
func ExpandDistrict(name string) []string {
	key := foldKey(name)
	if members, ok := districts[key]; ok {
		out := make([]string, len(members))
		copy(out, members)
		return out
	}
	return nil
}

// innPrefixToRegion maps the first two digits of a taxpayer INN to the
// region it was issued in. Only a representative subset of the official
// FNS code table is embedded — unmapped prefixes correctly fall through to
// FromINN returning "".
var innPrefixToRegion = map[string]string{
	"01": "Республика Адыгея", "02": "Республика Башкортостан",
	"03": "Республика Бурятия", "04": "Республика Алтай",
	"05": "Республика Дагестан", "06": "Республика Ингушетия",
	"07": "Кабардино-Балкарская Республика", "08": "Республика Калмыкия",
	"09": "Карачаево-Черкесская Республика", "10": "Республика Карелия",
	"11": "Республика Коми", "12": "Республика Марий Эл",
	"13": "Республика Мордовия", "14": "Республика Саха (Якутия)",
	"15": "Республика Северная Осетия — Алания", "16": "Республика Татарстан",
	"17": "Республика Тыва", "18": "Удмуртская Республика",
	"19": "Республика Хакасия", "20": "Чеченская Республика",
	"21": "Чувашская Республика", "22": "Алтайский край",
	"23": "Краснодарский край", "24": "Красноярский край",
	"25": "Приморский край", "26": "Ставропольский край",
	"27": "Хабаровский край", "28": "Амурская область",
	"29": "Архангельская область", "30": "Астраханская область",
	"31": "Белгородская область", "32": "Брянская область",
	"33": "Владимирская область", "34": "Волгоградская область",
	"35": "Вологодская область", "36": "Воронежская область",
	"37": "Ивановская область", "38": "Иркутская область",
	"39": "Калининградская область", "40": "Калужская область",
	"41": "Камчатский край", "42": "Кемеровская область",
	"43": "Кировская область", "44": "Костромская область",
	"45": "Курганская область", "46": "Курская область",
	"47": "Ленинградская область", "48": "Липецкая область",
	"49": "Магаданская область", "50": "Московская область",
	"51": "Мурманская область", "52": "Нижегородская область",
	"53": "Новгородская область", "54": "Новосибирская область",
	"55": "Омская область", "56": "Оренбургская область",
	"57": "Орловская область", "58": "Пензенская область",
	"59": "Пермский край", "60": "Псковская область",
	"61": "Ростовская область", "62": "Рязанская область",
	"63": "Самарская область", "64": "Саратовская область",
	"65": "Сахалинская область", "66": "Свердловская область",
	"67": "Смоленская область", "68": "Тамбовская область",
	"69": "Тверская область", "70": "Томская область",
	"71": "Тульская область", "72": "Тюменская область",
	"73": "Ульяновская область", "74": "Челябинская область",
	"75": "Забайкальский край", "76": "Ярославская область",
	"77": "Москва", "78": "Санкт-Петербург",
	"79": "Еврейская автономная область", "83": "Ненецкий автономный округ",
	"86": "Ханты-Мансийский автономный округ — Югра",
	"87": "Чукотский автономный округ",
	"89": "Ямало-Ненецкий автономный округ", "91": "Республика Крым",
	"92": "Севастополь",
}

// FromINN maps the first two digits of a 10- or 12-digit taxpayer INN to a
// canonical region. Returns "" for malformed input or an unmapped prefix.
func FromINN(inn string) string {
	inn = strings.TrimSpace(inn)
	if len(inn) != 10 && len(inn) != 12 {
		return ""
	}
	if _, err := strconv.ParseUint(inn, 10, 64); err != nil {
		return ""
	}
	return innPrefixToRegion[inn[:2]]
}
