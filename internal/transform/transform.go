// Package transform turns an authority record into the enriched record the
// local system imports.
package transform

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/marc"
	"github.com/sells-group/shp-enrich/internal/model"
)

// ErrUnsupportedLibrary is returned for a local system variant with no
// implemented import profile.
var ErrUnsupportedLibrary = eris.New("unsupported library")

// noDisplayValue marks an unset display code in local exports.
const noDisplayValue = "-"

var supportedLibraries = map[model.Library]bool{
	model.LibraryBPL: true,
}

// LocalContext carries the local record values merged into the authority record.
type LocalContext struct {
	Library     model.Library
	LocalID     int64
	FormatCode  string
	DisplayCode string
	Identifiers []marc.Field
}

// Transformer applies a Policy. It holds no state between calls.
type Transformer struct {
	policy Policy
}

// New creates a Transformer for the given policy.
func New(p Policy) *Transformer {
	return &Transformer{policy: p}
}

// Supports returns ErrUnsupportedLibrary when lib has no import profile.
func (t *Transformer) Supports(lib model.Library) error {
	if !supportedLibraries[lib] {
		return eris.Wrapf(ErrUnsupportedLibrary, "transform: %s", lib)
	}
	return nil
}

// Transform builds the enriched record from ext without modifying it. The
// edits run in a fixed order: identifier fields are swapped for the local
// copies, administrative fields are dropped, import command fields are
// added, and unsupported subject headings are stripped.
func (t *Transformer) Transform(ext *marc.Record, lc LocalContext) (*marc.Record, error) {
	if err := t.Supports(lc.Library); err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, eris.New("transform: nil authority record")
	}
	if lc.FormatCode == "" {
		return nil, eris.Errorf("transform: record %d has no format code", lc.LocalID)
	}

	rec := ext.Clone()

	rec.RemoveFields(t.policy.IdentifierTags...)
	for _, f := range lc.Identifiers {
		rec.AddOrderedField(f)
	}

	rec.RemoveFields(t.policy.RemoveTags...)

	if t.policy.MatchTag != "" {
		rec.AddOrderedField(dataField(t.policy.MatchTag, "."+ident.FormatBibNumber(lc.LocalID)))
	}
	rec.AddOrderedField(dataField(t.policy.CommandTag, CommandString(lc.FormatCode, lc.DisplayCode)))
	if t.policy.InitialsTag != "" && t.policy.Initials != "" {
		rec.AddOrderedField(dataField(t.policy.InitialsTag, t.policy.Initials))
	}

	rec.RemoveFunc(func(f marc.Field) bool {
		return !t.policy.Subjects.Supported(f)
	})

	return rec, nil
}

// CommandString encodes the import command for the format and display codes,
// e.g. "*b2=a;b3=n;". A display code of "-" is omitted.
func CommandString(format, display string) string {
	s := "*b2=" + format
	if display != "" && display != noDisplayValue {
		s += ";b3=" + display
	}
	return s + ";"
}

func dataField(tag, value string) marc.Field {
	return marc.Field{
		Tag:       tag,
		Ind1:      " ",
		Ind2:      " ",
		Subfields: []marc.Subfield{{Code: "a", Value: value}},
	}
}
