package calendar

import (
	"fmt"
	"strconv"
	"strings"
)

// Format is a paper format the calendars are printed on
type Format string

const (
	FormatA4 Format = "a4"
	FormatA5 Format = "a5"
)

// ParseFormat converts a config or flag value to a Format
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatA4:
		return FormatA4, nil
	case FormatA5:
		return FormatA5, nil
	default:
		return "", fmt.Errorf("unsupported paper format %q", s)
	}
}

// Orientation of the rendered page
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// Orientations lists both orientations in render order
func Orientations() []Orientation {
	return []Orientation{Portrait, Landscape}
}

// ParseOrientation converts a config value to an Orientation
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(strings.ToLower(strings.TrimSpace(s))) {
	case Portrait:
		return Portrait, nil
	case Landscape:
		return Landscape, nil
	default:
		return "", fmt.Errorf("unsupported orientation %q", s)
	}
}

// IsLandscape reports whether width and height are swapped
func (o Orientation) IsLandscape() bool {
	return o == Landscape
}

// WeekStart is the ISO weekday number of the first grid column
type WeekStart int

const (
	Monday WeekStart = 1
	Sunday WeekStart = 7
)

// WeekStarts lists both supported conventions
func WeekStarts() []WeekStart {
	return []WeekStart{Monday, Sunday}
}

// WeekStartLabel maps an ISO weekday to its directory label.
// Only Monday (1) and Sunday (7) are valid; anything else is an error.
func WeekStartLabel(day int) (string, error) {
	switch WeekStart(day) {
	case Monday:
		return "monday-start", nil
	case Sunday:
		return "sunday-start", nil
	default:
		return "", fmt.Errorf("invalid week start %d: expected 1 (monday) or 7 (sunday)", day)
	}
}

// Label returns the directory label of the convention
func (w WeekStart) Label() (string, error) {
	return WeekStartLabel(int(w))
}

// ParseWeekStart accepts "monday", "sunday", "1" or "7"
func ParseWeekStart(s string) (WeekStart, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monday", "mon", "monday-start":
		return Monday, nil
	case "sunday", "sun", "sunday-start":
		return Sunday, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid week start %q", s)
	}
	if _, err := WeekStartLabel(n); err != nil {
		return 0, err
	}
	return WeekStart(n), nil
}

// Locale is one entry of the locale catalog
type Locale struct {
	Code            string
	EnglishName     string
	CalendarSystem  string
	NumberingSystem string
	Months          [12]string
}

// MonthName returns the localized name of month 1..12
func (l Locale) MonthName(month int) (string, error) {
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month %d out of range", month)
	}
	return l.Months[month-1], nil
}

// BuildDimension identifies one renderable calendar artifact
type BuildDimension struct {
	Year         int
	Theme        Theme
	Locale       Locale
	Format       Format
	WeekStartsOn WeekStart
	CalendarType CalendarType
	Orientation  Orientation
}

// Key is a compact identifier used in logs and reports
func (d BuildDimension) Key() string {
	label, err := d.WeekStartsOn.Label()
	if err != nil {
		label = strconv.Itoa(int(d.WeekStartsOn))
	}
	return strings.Join([]string{
		string(d.Theme),
		strconv.Itoa(d.Year),
		string(d.Format),
		d.Locale.Code,
		label,
		string(d.CalendarType),
		string(d.Orientation),
	}, "/")
}

// Months returns the page months rendered for this dimension.
// Yearly calendars have a single page, reported as month 0.
func (d BuildDimension) Months() []int {
	if d.CalendarType != Monthly {
		return []int{0}
	}
	months := make([]int, 12)
	for i := range months {
		months[i] = i + 1
	}
	return months
}
