package storage

import (
	"fmt"
	"iter"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fluxo/calgen/pkg/calendar"
)

const (
	pdfDir     = "pdf"
	previewDir = "preview"
	distDir    = "dist"

	// YearlyBaseName is the fixed file name of a yearly render
	YearlyBaseName = "calendar"

	ExtPDF = "pdf"
	ExtPNG = "png"
)

// OutputPaths are the leaf directories of one dimension
type OutputPaths struct {
	// Dir is {base}/{theme}/{year}/{format}/{locale}/{week-start}/{type}
	Dir        string
	PDFDir     string
	PreviewDir string
}

// Plan maps a dimension to its output directories. It is a pure function:
// every axis that changes file content is a path segment.
func Plan(base string, dim calendar.BuildDimension) (OutputPaths, error) {
	label, err := dim.WeekStartsOn.Label()
	if err != nil {
		return OutputPaths{}, err
	}
	if dim.Locale.Code == "" {
		return OutputPaths{}, fmt.Errorf("dimension %s has no locale", dim.Key())
	}

	dir := filepath.Join(
		FormatDir(base, dim.Theme, dim.Year, dim.Format),
		dim.Locale.Code,
		label,
		string(dim.CalendarType),
	)
	return OutputPaths{
		Dir:        dir,
		PDFDir:     filepath.Join(dir, pdfDir, string(dim.Orientation)),
		PreviewDir: filepath.Join(dir, previewDir, string(dim.Orientation)),
	}, nil
}

// PDFPath returns the document path for a file name
func (p OutputPaths) PDFPath(filename string) string {
	return filepath.Join(p.PDFDir, filename)
}

// PreviewPath returns the raster preview path for a file name
func (p OutputPaths) PreviewPath(filename string) string {
	return filepath.Join(p.PreviewDir, filename)
}

// Filename names a rendered page. Yearly pages use a fixed name; monthly pages
// are prefixed with the zero-padded month so listings sort chronologically.
func Filename(ct calendar.CalendarType, month int, monthName string, ext string) (string, error) {
	switch ct {
	case calendar.Yearly:
		return YearlyBaseName + "." + ext, nil
	case calendar.Monthly:
		if month < 1 || month > 12 {
			return "", fmt.Errorf("month %d out of range", month)
		}
		if monthName == "" {
			return "", fmt.Errorf("month %d has no name", month)
		}
		return fmt.Sprintf("%02d-%s.%s", month, monthName, ext), nil
	default:
		return "", fmt.Errorf("unknown calendar type %q", string(ct))
	}
}

// FilenameFor names a page of a dimension using its locale's month names
func FilenameFor(dim calendar.BuildDimension, month int, ext string) (string, error) {
	if dim.CalendarType != calendar.Monthly {
		return Filename(dim.CalendarType, month, "", ext)
	}
	name, err := dim.Locale.MonthName(month)
	if err != nil {
		return "", err
	}
	return Filename(dim.CalendarType, month, name, ext)
}

// ThemeDir is {base}/{theme}
func ThemeDir(base string, theme calendar.Theme) string {
	return filepath.Join(base, string(theme))
}

// YearDir is {base}/{theme}/{year}
func YearDir(base string, theme calendar.Theme, year int) string {
	return filepath.Join(ThemeDir(base, theme), strconv.Itoa(year))
}

// FormatDir is {base}/{theme}/{year}/{format}, the source of one bundle
func FormatDir(base string, theme calendar.Theme, year int, format calendar.Format) string {
	return filepath.Join(YearDir(base, theme, year), string(format))
}

// DistDir is {base}/{theme}/dist
func DistDir(base string, theme calendar.Theme) string {
	return filepath.Join(ThemeDir(base, theme), distDir)
}

// BundleName is {theme}-{year}-{format}
func BundleName(theme calendar.Theme, year int, format calendar.Format) string {
	return fmt.Sprintf("%s-%d-%s", theme, year, format)
}

// BundlePath is {base}/{theme}/dist/{theme}-{year}-{format}.zip
func BundlePath(base string, theme calendar.Theme, year int, format calendar.Format) string {
	return filepath.Join(DistDir(base, theme), BundleName(theme, year, format)+".zip")
}

// ManifestPath is the sidecar manifest of a bundle: {bundle}.manifest.yaml
func ManifestPath(bundlePath string) string {
	return strings.TrimSuffix(bundlePath, filepath.Ext(bundlePath)) + ".manifest.yaml"
}

// ScopeFiles lists every artifact a bundle scope is expected to contain, as
// slash-separated paths relative to the scope's format directory.
func ScopeFiles(base string, dims iter.Seq[calendar.BuildDimension]) ([]string, error) {
	var files []string
	for dim := range dims {
		paths, err := Plan(base, dim)
		if err != nil {
			return nil, err
		}
		root := FormatDir(base, dim.Theme, dim.Year, dim.Format)
		for _, month := range dim.Months() {
			for _, ext := range []string{ExtPDF, ExtPNG} {
				name, err := FilenameFor(dim, month, ext)
				if err != nil {
					return nil, err
				}
				full := paths.PDFPath(name)
				if ext == ExtPNG {
					full = paths.PreviewPath(name)
				}
				rel, err := filepath.Rel(root, full)
				if err != nil {
					return nil, err
				}
				files = append(files, filepath.ToSlash(rel))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
