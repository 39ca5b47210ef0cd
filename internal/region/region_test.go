package region_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataparency-dev/tenderwatch/internal/region"
)

func TestNormaliseAlias(t *testing.T) {
	assert.Equal(t, "Санкт-Петербург", region.Normalise("СПб"))
	assert.Equal(t, "Республика Татарстан", region.Normalise("РТ"))
}

func TestNormaliseCanonicalPassthrough(t *testing.T) {
	assert.Equal(t, "Москва", region.Normalise("москва"))
}

func TestNormaliseInvertedWordOrder(t *testing.T) {
	assert.Equal(t, "Республика Бурятия", region.Normalise("Бурятия Республика"))
}

func TestNormalisePostalCodeAndPunctuationStripped(t *testing.T) {
	assert.Equal(t, "Москва", region.Normalise("г. Москва, 101000"))
}

// District-name substrings must resolve to the parent federal subject, never
// reject just because a bare district token alone is unmappable.
func TestNormaliseDistrictSubstringResolvesToParentOblast(t *testing.T) {
	got := region.Normalise("Коркинский район, Челябинская область")
	assert.Equal(t, "Челябинская область", got)
}

// A genitive-declined oblast name ("Челябинской области", not the
// nominative "Челябинская область") must still resolve to the parent
// oblast, not fall through to null.
func TestNormaliseDistrictSubstringGenitiveCaseResolvesToParentOblast(t *testing.T) {
	got := region.Normalise("Коркинский район, Челябинской области")
	assert.Equal(t, "Челябинская область", got)
}

func TestNormaliseUnresolvableReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", region.Normalise("Нарния"))
}

func TestNormaliseEmptyInput(t *testing.T) {
	assert.Equal(t, "", region.Normalise(""))
}

func TestFromINNKnownPrefix(t *testing.T) {
	assert.Equal(t, "Москва", region.FromINN("7712345678"))
}

func TestFromINNMalformedReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", region.FromINN("not-an-inn"))
	assert.Equal(t, "", region.FromINN("123"))
}

func TestExpandDistrictReturnsMemberSubjects(t *testing.T) {
	members := region.ExpandDistrict("Южный федеральный округ")
	assert.Contains(t, members, "Краснодарский край")
	assert.Contains(t, members, "Республика Крым")
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, region.IsCanonical("Москва"))
	assert.False(t, region.IsCanonical("Нарния"))
}
