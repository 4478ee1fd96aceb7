// Package locales loads the static locale catalog the calendars are rendered in.
package locales

import (
	_ "embed"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"

	"github.com/fluxo/calgen/pkg/calendar"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const (
	gregorian     = "gregory"
	latinNumerals = "latn"
)

// entry is the on-disk form of a catalog locale
type entry struct {
	Code        string   `yaml:"code"`
	EnglishName string   `yaml:"english_name"`
	Calendar    string   `yaml:"calendar"`
	Numbering   string   `yaml:"numbering"`
	Months      []string `yaml:"months"`
}

// Catalog is an ordered, read-only set of locales
type Catalog struct {
	locales []calendar.Locale
	index   map[string]int
}

// Default returns the embedded catalog
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a YAML catalog.
//
// Every locale must have a valid BCP 47 code and exactly 12 month names.
// Only the Gregorian calendar is supported: the pipeline assumes 12 months
// per year, so locales declaring another calendar system are rejected.
func Parse(data []byte) (*Catalog, error) {
	var entries []entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse locale catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("locale catalog is empty")
	}

	c := &Catalog{index: make(map[string]int, len(entries))}
	for i, e := range entries {
		loc, err := e.toLocale()
		if err != nil {
			return nil, fmt.Errorf("locale catalog entry %d: %w", i, err)
		}
		if _, dup := c.index[loc.Code]; dup {
			return nil, fmt.Errorf("locale catalog entry %d: duplicate code %q", i, loc.Code)
		}
		c.index[loc.Code] = len(c.locales)
		c.locales = append(c.locales, loc)
	}
	return c, nil
}

func (e entry) toLocale() (calendar.Locale, error) {
	code := strings.TrimSpace(e.Code)
	tag, err := language.Parse(code)
	if err != nil {
		return calendar.Locale{}, fmt.Errorf("invalid locale code %q: %w", e.Code, err)
	}

	cal := e.Calendar
	if cal == "" {
		cal = gregorian
	}
	if cal != gregorian {
		return calendar.Locale{}, fmt.Errorf("locale %s: calendar system %q is not supported", code, cal)
	}

	if len(e.Months) != 12 {
		return calendar.Locale{}, fmt.Errorf("locale %s: expected 12 month names, got %d", code, len(e.Months))
	}

	loc := calendar.Locale{
		Code:            code,
		EnglishName:     e.EnglishName,
		CalendarSystem:  cal,
		NumberingSystem: e.Numbering,
	}
	if loc.NumberingSystem == "" {
		loc.NumberingSystem = latinNumerals
	}
	if loc.EnglishName == "" {
		loc.EnglishName = display.English.Tags().Name(tag)
	}
	for i, m := range e.Months {
		m = strings.TrimSpace(m)
		if m == "" || strings.ContainsAny(m, `/\`) {
			return calendar.Locale{}, fmt.Errorf("locale %s: invalid name for month %d", code, i+1)
		}
		loc.Months[i] = m
	}
	return loc, nil
}

// All returns every locale in catalog order
func (c *Catalog) All() []calendar.Locale {
	out := make([]calendar.Locale, len(c.locales))
	copy(out, c.locales)
	return out
}

// Lookup finds a locale by code
func (c *Catalog) Lookup(code string) (calendar.Locale, bool) {
	i, ok := c.index[code]
	if !ok {
		return calendar.Locale{}, false
	}
	return c.locales[i], true
}

// Select returns the requested locales in catalog order. An empty
// selection means the whole catalog.
func (c *Catalog) Select(codes []string) ([]calendar.Locale, error) {
	if len(codes) == 0 {
		return c.All(), nil
	}
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		if _, ok := c.index[code]; !ok {
			return nil, fmt.Errorf("unknown locale %q", code)
		}
		want[code] = true
	}
	out := make([]calendar.Locale, 0, len(want))
	for _, loc := range c.locales {
		if want[loc.Code] {
			out = append(out, loc)
		}
	}
	return out, nil
}
