package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		ok    bool
	}{
		{"ocm00000001", 1, true},
		{"ocn000000001", 1, true},
		{"on0000000001", 1, true},
		{"ON0000000001", 1, true},
		{"OCM00000001", 1, true},
		{"(OCoLC)1234", 1234, true},
		{"(ocolc)1234", 1234, true},
		{"1049552268", 1049552268, true},
		{" 12345 ", 12345, true},
		{"(WaOLN)nyp0067978", 0, false},
		{"NN724068095", 0, false},
		{"NYPG724068095-B", 0, false},
		{"ocm", 0, false},
		{"", 0, false},
		{"-5", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tt := range tests {
		got, ok := NormalizeIdentifier(tt.input)
		assert.Equal(t, tt.ok, ok, "input: %q", tt.input)
		assert.Equal(t, tt.want, got, "input: %q", tt.input)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Foo.", "foo"},
		{"Foo /", "foo"},
		{"Foo \\", "foo"},
		{"Foo, Spam", "foo spam"},
		{"Foo: spam", "foo spam"},
		{"Foo; spam", "foo spam"},
		{" Foo ", "foo"},
		{"'Foo'", "foo"},
		{`"Foo"`, "foo"},
		{"Foo@Foo", "foo"},
		{"@Foo", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.input), "input: %q", tt.input)
	}
}

func TestNormalizeTitle_Idempotent(t *testing.T) {
	inputs := []string{
		"Foo, Spam",
		"  The Cat in the Hat / by Dr. Seuss.  ",
		"A: B; C@D@E",
		`"Quoted" \ 'single'`,
		"ÉCOLE Élémentaire",
		"",
	}
	for _, in := range inputs {
		once := NormalizeTitle(in)
		assert.Equal(t, once, NormalizeTitle(once), "input: %q", in)
	}
}

func TestExtractIdentifierSet(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		want []int64
	}{
		{
			name: "duplicates across columns",
			row:  []string{"", "", "12345", "(OCoLC)12345", "", "12345"},
			want: []int64{12345},
		},
		{
			name: "prefixed control and bare repeat",
			row:  []string{"", "", "ocm00000001", "(WaOLN)0067978", "", "2"},
			want: []int64{1, 2},
		},
		{
			name: "all empty",
			row:  []string{"", "", "", "", "", ""},
			want: []int64{},
		},
		{
			name: "repeated values with noise",
			row:  []string{"", "", "NYPG1342-S", "(WaOLN)0067978@(OCoLC)12345", "", "22345@nyp32345"},
			want: []int64{12345, 22345},
		},
		{
			name: "short row",
			row:  []string{"b10000037a", "Title", "ocn1"},
			want: []int64{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractIdentifierSet(tt.row, DefaultExportLayout)
			assert.Equal(t, tt.want, SortedIdentifiers(got))
		})
	}
}

func TestExtractIdentifierSet_CustomDelimiter(t *testing.T) {
	layout := ExportLayout{ControlColumn: 0, RepeatColumns: []int{1}, RepeatDelimiter: ";"}
	got := ExtractIdentifierSet([]string{"on7", "ocm8;ocn9"}, layout)
	assert.Equal(t, []int64{7, 8, 9}, SortedIdentifiers(got))
}

func TestNormalizeBibNumber(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		ok    bool
	}{
		{"12345678", 12345678, true},
		{"b12345678", 12345678, true},
		{"b12345678a", 12345678, true},
		{".b12345678x", 12345678, true},
		{"123456789", 12345678, true},
		{"b1234567", 0, false},
		{"bxxxxxxxx", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := NormalizeBibNumber(tt.input)
		assert.Equal(t, tt.ok, ok, "input: %q", tt.input)
		assert.Equal(t, tt.want, got, "input: %q", tt.input)
	}
}

func TestFormatBibNumber(t *testing.T) {
	assert.Equal(t, "b10000037a", FormatBibNumber(10000037))
	n, ok := NormalizeBibNumber(FormatBibNumber(10000037))
	assert.True(t, ok)
	assert.Equal(t, int64(10000037), n)
}
