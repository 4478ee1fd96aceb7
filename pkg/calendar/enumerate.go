package calendar

import "iter"

// Matrix holds the build axes. Its sequences are lazy and can be ranged
// over any number of times.
type Matrix struct {
	Years        []int
	Themes       []Theme
	Formats      []Format
	Locales      []Locale
	WeekStarts   []WeekStart
	Types        []CalendarType
	Orientations []Orientation
}

// All yields every dimension grouped by theme, year, format, locale and week start.
func (m Matrix) All() iter.Seq[BuildDimension] {
	return func(yield func(BuildDimension) bool) {
		for _, theme := range m.Themes {
			for _, year := range m.Years {
				for _, format := range m.Formats {
					for dim := range m.Scope(theme, year, format) {
						if !yield(dim) {
							return
						}
					}
				}
			}
		}
	}
}

// Scope yields the dimensions that feed one (theme, year, format) bundle.
func (m Matrix) Scope(theme Theme, year int, format Format) iter.Seq[BuildDimension] {
	return func(yield func(BuildDimension) bool) {
		for _, loc := range m.Locales {
			for _, ws := range m.WeekStarts {
				for _, ct := range m.Types {
					for _, o := range m.Orientations {
						dim := BuildDimension{
							Year:         year,
							Theme:        theme,
							Locale:       loc,
							Format:       format,
							WeekStartsOn: ws,
							CalendarType: ct,
							Orientation:  o,
						}
						if !yield(dim) {
							return
						}
					}
				}
			}
		}
	}
}

// Size is the number of dimensions All yields
func (m Matrix) Size() int {
	return len(m.Themes) * len(m.Years) * len(m.Formats) * m.ScopeSize()
}

// ScopeSize is the number of dimensions Scope yields
func (m Matrix) ScopeSize() int {
	return len(m.Locales) * len(m.WeekStarts) * len(m.Types) * len(m.Orientations)
}

// PageCount is the number of page renders All expands to
func (m Matrix) PageCount() int {
	n := 0
	for dim := range m.All() {
		n += len(dim.Months())
	}
	return n
}
