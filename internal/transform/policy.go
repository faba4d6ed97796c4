package transform

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shp-enrich/internal/marc"
)

// Policy holds the field-level rules applied to an authority record.
type Policy struct {
	// IdentifierTags are replaced wholesale by the locally held copies.
	IdentifierTags []string `yaml:"identifier_tags"`

	// RemoveTags are authority-only administrative fields.
	RemoveTags []string `yaml:"remove_tags"`

	Subjects SubjectPolicy `yaml:"subjects"`

	MatchTag    string `yaml:"match_tag"`
	CommandTag  string `yaml:"command_tag"`
	InitialsTag string `yaml:"initials_tag"`
	Initials    string `yaml:"initials"`
}

// SubjectPolicy decides which subject headings the local catalog supports.
type SubjectPolicy struct {
	Tags []string `yaml:"tags"`

	// Thesauri are second-indicator values accepted without a source code.
	Thesauri []string `yaml:"thesauri"`

	// Sources are $2 codes accepted when the second indicator is 7.
	Sources []string `yaml:"sources"`
}

// DefaultPolicy returns the rules used for BPL imports.
func DefaultPolicy() Policy {
	return Policy{
		IdentifierTags: []string{"020"},
		RemoveTags:     []string{"019", "029", "263", "938"},
		Subjects: SubjectPolicy{
			Tags:     []string{"600", "610", "611", "630", "650", "651", "655"},
			Thesauri: []string{"0", "1"},
			Sources:  []string{"fast", "gsafd", "lcgft", "lcsh", "bidex", "aat", "homoit"},
		},
		MatchTag:    "907",
		CommandTag:  "949",
		InitialsTag: "947",
		Initials:    "SHPbot",
	}
}

// LoadPolicy reads a policy from a YAML file with a top-level "transform"
// key. Keys absent from the file keep their default values.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultPolicy(), eris.Wrapf(err, "transform: read policy %s", path)
	}

	wrapper := struct {
		Transform Policy `yaml:"transform"`
	}{Transform: DefaultPolicy()}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return DefaultPolicy(), eris.Wrap(err, "transform: parse policy")
	}
	if wrapper.Transform.CommandTag == "" {
		return DefaultPolicy(), eris.New("transform: policy command_tag must be set")
	}
	return wrapper.Transform, nil
}

// IsSubject reports whether tag is a subject heading tag under this policy.
func (s SubjectPolicy) IsSubject(tag string) bool {
	return contains(s.Tags, tag)
}

// Supported reports whether a subject heading belongs to a supported vocabulary.
// Fields that are not subject headings are always supported.
func (s SubjectPolicy) Supported(f marc.Field) bool {
	if !s.IsSubject(f.Tag) {
		return true
	}
	if contains(s.Thesauri, f.Ind2) {
		return true
	}
	if f.Ind2 != "7" {
		return false
	}
	src, ok := f.Subfield("2")
	if !ok {
		return false
	}
	src = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(src)), ".")
	return contains(s.Sources, src)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
