package locales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	all := c.All()
	require.NotEmpty(t, all)
	assert.Equal(t, "en", all[0].Code)

	de, ok := c.Lookup("de")
	require.True(t, ok)
	assert.Equal(t, "German", de.EnglishName)
	assert.Equal(t, "gregory", de.CalendarSystem)
	assert.Equal(t, "latn", de.NumberingSystem)
	name, err := de.MonthName(3)
	require.NoError(t, err)
	assert.Equal(t, "März", name)
}

func TestSelect_KeepsCatalogOrder(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	got, err := c.Select([]string{"fr", "en"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "en", got[0].Code)
	assert.Equal(t, "fr", got[1].Code)

	_, err = c.Select([]string{"xx-invalid"})
	assert.Error(t, err)

	all, err := c.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(c.All()))
}

func TestParse_RejectsNonGregorian(t *testing.T) {
	_, err := Parse([]byte(`
- code: fa-IR
  calendar: persian
  months: [a, b, c, d, e, f, g, h, i, j, k, l]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persian")
}

func TestParse_RejectsWrongMonthCount(t *testing.T) {
	_, err := Parse([]byte(`
- code: en
  months: [January, February]
`))
	assert.Error(t, err)
}

func TestParse_RejectsDuplicatesAndBadCodes(t *testing.T) {
	months := "[a, b, c, d, e, f, g, h, i, j, k, l]"
	_, err := Parse([]byte("- code: en\n  months: " + months + "\n- code: en\n  months: " + months + "\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("- code: \"not a tag!\"\n  months: " + months + "\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("- code: en\n  months: [a, b, c, d, e, f, g, h, i, j, k, \"x/y\"]\n"))
	assert.Error(t, err)
}

func TestParse_ExplicitEnglishName(t *testing.T) {
	c, err := Parse([]byte(`
- code: en-GB
  english_name: British
  months: [a, b, c, d, e, f, g, h, i, j, k, l]
`))
	require.NoError(t, err)
	loc, ok := c.Lookup("en-GB")
	require.True(t, ok)
	assert.Equal(t, "British", loc.EnglishName)
}
