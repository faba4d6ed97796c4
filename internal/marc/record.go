// Package marc models bibliographic records and reads and writes them as
// MARCXML and ISO 2709 transmission format.
package marc

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Subfield is one coded value inside a data field.
type Subfield struct {
	Code  string `json:"code"`
	Value string `json:"value"`
}

// Field is a control field (tags 001-009, Value set) or a data field
// (indicators and subfields set).
type Field struct {
	Tag       string     `json:"tag"`
	Value     string     `json:"value,omitempty"`
	Ind1      string     `json:"ind1,omitempty"`
	Ind2      string     `json:"ind2,omitempty"`
	Subfields []Subfield `json:"subfields,omitempty"`
}

// IsControl reports whether the field is a control field.
func (f Field) IsControl() bool {
	return len(f.Tag) == 3 && f.Tag < "010"
}

// Subfield returns the first value for code.
func (f Field) Subfield(code string) (string, bool) {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value, true
		}
	}
	return "", false
}

func (f Field) clone() Field {
	out := f
	if f.Subfields != nil {
		out.Subfields = append([]Subfield(nil), f.Subfields...)
	}
	return out
}

// Record is a bibliographic record: a leader plus fields in stored order.
type Record struct {
	Leader string
	Fields []Field
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := &Record{Leader: r.Leader, Fields: make([]Field, len(r.Fields))}
	for i, f := range r.Fields {
		out.Fields[i] = f.clone()
	}
	return out
}

// FieldsByTag returns copies of every field whose tag is in tags, in record order.
func (r *Record) FieldsByTag(tags ...string) []Field {
	want := tagSet(tags)
	var out []Field
	for _, f := range r.Fields {
		if want[f.Tag] {
			out = append(out, f.clone())
		}
	}
	return out
}

// Subfield returns the first value of code in the first field tagged tag.
func (r *Record) Subfield(tag, code string) (string, bool) {
	for _, f := range r.Fields {
		if f.Tag != tag {
			continue
		}
		if v, ok := f.Subfield(code); ok {
			return v, true
		}
	}
	return "", false
}

// RemoveFields deletes every field whose tag is in tags and returns how many
// were removed.
func (r *Record) RemoveFields(tags ...string) int {
	want := tagSet(tags)
	return r.RemoveFunc(func(f Field) bool {
		return want[f.Tag]
	})
}

// RemoveFunc deletes every field for which drop returns true.
func (r *Record) RemoveFunc(drop func(Field) bool) int {
	kept := r.Fields[:0]
	removed := 0
	for _, f := range r.Fields {
		if drop(f) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	r.Fields = kept
	return removed
}

// AddField appends f after every existing field.
func (r *Record) AddField(f Field) {
	r.Fields = append(r.Fields, f.clone())
}

// AddOrderedField inserts f before the first field with a higher tag, after
// any fields sharing its tag.
func (r *Record) AddOrderedField(f Field) {
	for i, existing := range r.Fields {
		if existing.Tag > f.Tag {
			r.Fields = append(r.Fields, Field{})
			copy(r.Fields[i+1:], r.Fields[i:])
			r.Fields[i] = f.clone()
			return
		}
	}
	r.AddField(f)
}

func tagSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// EncodeFields serializes fields into the opaque identifier payload stored
// with a local record.
func EncodeFields(fields []Field) ([]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, eris.Wrap(err, "marc: encode fields")
	}
	return data, nil
}

// DecodeFields restores fields serialized by EncodeFields. An empty payload
// decodes to no fields.
func DecodeFields(payload []byte) ([]Field, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var fields []Field
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, eris.Wrap(err, "marc: decode fields")
	}
	return fields, nil
}
