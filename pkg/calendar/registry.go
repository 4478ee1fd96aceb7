package calendar

import (
	"fmt"
	"sort"
	"strings"
)

// Theme is a visual style served by the render target
type Theme string

const (
	ThemeSimple  Theme = "simple"
	ThemeMinimal Theme = "minimal"
)

// CalendarType selects the layout rendered per page
type CalendarType string

const (
	Yearly  CalendarType = "yearly"
	Monthly CalendarType = "monthly"
)

// CalendarTypes lists both layouts in render order
func CalendarTypes() []CalendarType {
	return []CalendarType{Monthly, Yearly}
}

// themeRoutes maps each theme to its route segment on the render target
var themeRoutes = map[Theme]string{
	ThemeSimple:  "simple",
	ThemeMinimal: "minimal",
}

var typeRoutes = map[CalendarType]string{
	Yearly:  "year",
	Monthly: "month",
}

// ParseTheme resolves a theme name, failing on anything not registered
func ParseTheme(s string) (Theme, error) {
	t := Theme(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := themeRoutes[t]; !ok {
		return "", fmt.Errorf("unknown theme %q (known: %s)", s, strings.Join(KnownThemes(), ", "))
	}
	return t, nil
}

// KnownThemes returns registered theme names, sorted
func KnownThemes() []string {
	names := make([]string, 0, len(themeRoutes))
	for t := range themeRoutes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Route returns the render-target route segment of the theme
func (t Theme) Route() (string, error) {
	r, ok := themeRoutes[t]
	if !ok {
		return "", fmt.Errorf("unknown theme %q", string(t))
	}
	return r, nil
}

// ParseCalendarType resolves a calendar type name
func ParseCalendarType(s string) (CalendarType, error) {
	ct := CalendarType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := typeRoutes[ct]; !ok {
		return "", fmt.Errorf("unknown calendar type %q", s)
	}
	return ct, nil
}

// Route returns the render-target route segment of the calendar type
func (c CalendarType) Route() (string, error) {
	r, ok := typeRoutes[c]
	if !ok {
		return "", fmt.Errorf("unknown calendar type %q", string(c))
	}
	return r, nil
}
