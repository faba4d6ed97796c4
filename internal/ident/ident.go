// Package ident normalizes the identifier and title strings found in local
// catalog exports and authority reports.
package ident

import (
	"sort"
	"strconv"
	"strings"
)

// prefixes lists the authority control-number encodings in the order they
// are tried. The first match wins.
var prefixes = []string{"ocm", "ocn", "on", "(ocolc)"}

// NormalizeIdentifier parses an authority control number in any of its
// encodings (ocm, ocn, on, (OCoLC) or bare digits) into its numeric form.
// Malformed values return ok=false rather than an error.
func NormalizeIdentifier(raw string) (int64, bool) {
	lower := strings.ToLower(raw)
	rest := raw
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			rest = raw[len(p):]
			break
		}
	}
	return parseDigits(rest)
}

// parseDigits accepts only an unsigned base-10 integer, surrounding
// whitespace allowed.
func parseDigits(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var titlePunctuation = strings.NewReplacer(
	".", "",
	",", "",
	":", "",
	";", "",
	"/", "",
	"\\", "",
	"'", "",
	"\"", "",
)

// NormalizeTitle reduces a title to a lowercase, punctuation-free form for
// human review. Only the first value of a multi-valued field is kept.
func NormalizeTitle(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(strings.ToLower(titlePunctuation.Replace(raw)))
}

// ExportLayout describes where identifiers sit in a local system export row.
type ExportLayout struct {
	ControlColumn   int    `yaml:"control_column" mapstructure:"control_column"`
	RepeatColumns   []int  `yaml:"repeat_columns" mapstructure:"repeat_columns"`
	RepeatDelimiter string `yaml:"repeat_delimiter" mapstructure:"repeat_delimiter"`
}

// DefaultExportLayout matches the Sierra export of
// RECORD #, 245|a, BIB UTIL #, 035|a, 910|a, 991|y.
var DefaultExportLayout = ExportLayout{
	ControlColumn:   2,
	RepeatColumns:   []int{3, 5},
	RepeatDelimiter: "@",
}

// ExtractIdentifierSet collects every authority identifier present in the
// control column and the repeatable columns of row. Tokens that fail to
// normalize and columns missing from a short row are ignored.
func ExtractIdentifierSet(row []string, layout ExportLayout) map[int64]struct{} {
	delim := layout.RepeatDelimiter
	if delim == "" {
		delim = "@"
	}

	ids := make(map[int64]struct{})
	if v, ok := column(row, layout.ControlColumn); ok {
		if n, ok := NormalizeIdentifier(v); ok {
			ids[n] = struct{}{}
		}
	}
	for _, col := range layout.RepeatColumns {
		v, ok := column(row, col)
		if !ok {
			continue
		}
		for _, tok := range strings.Split(v, delim) {
			if n, ok := NormalizeIdentifier(tok); ok {
				ids[n] = struct{}{}
			}
		}
	}
	return ids
}

// SortedIdentifiers returns the members of an identifier set in ascending order.
func SortedIdentifiers(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func column(row []string, i int) (string, bool) {
	if i < 0 || i >= len(row) || row[i] == "" {
		return "", false
	}
	return row[i], true
}

// NormalizeBibNumber extracts the eight-digit local bib number from the
// forms it takes in exports and reports: "b12345678a", ".b12345678a",
// "b12345678" or "12345678". A trailing check character is dropped.
func NormalizeBibNumber(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, ".")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "b"), "B")
	if len(s) == 9 {
		s = s[:8]
	}
	if len(s) != 8 {
		return 0, false
	}
	return parseDigits(s)
}

// FormatBibNumber renders a bib number with the "b" prefix and the "a"
// wildcard check digit the local system accepts on import and list creation.
func FormatBibNumber(id int64) string {
	return "b" + strconv.FormatInt(id, 10) + "a"
}
