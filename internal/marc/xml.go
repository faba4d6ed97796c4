package marc

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

type xmlSubfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

type xmlField struct {
	XMLName   xml.Name
	Tag       string        `xml:"tag,attr"`
	Ind1      string        `xml:"ind1,attr"`
	Ind2      string        `xml:"ind2,attr"`
	Value     string        `xml:",chardata"`
	Subfields []xmlSubfield `xml:"subfield"`
}

type xmlRecord struct {
	Leader string     `xml:"leader"`
	Fields []xmlField `xml:",any"`
}

// ParseXMLRecord decodes a MARCXML document that must contain exactly one
// record, bare or inside a collection.
func ParseXMLRecord(data []byte) (*Record, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "marc: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var records []*Record
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "marc: read xml token")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "record" {
			continue
		}
		var xr xmlRecord
		if err := decoder.DecodeElement(&xr, &se); err != nil {
			return nil, eris.Wrap(err, "marc: decode record")
		}
		records = append(records, xr.toRecord())
	}

	if len(records) != 1 {
		return nil, eris.Errorf("marc: expected exactly one record, found %d", len(records))
	}
	return records[0], nil
}

func (xr xmlRecord) toRecord() *Record {
	rec := &Record{Leader: xr.Leader}
	for _, xf := range xr.Fields {
		switch xf.XMLName.Local {
		case "controlfield":
			rec.Fields = append(rec.Fields, Field{Tag: xf.Tag, Value: xf.Value})
		case "datafield":
			f := Field{Tag: xf.Tag, Ind1: indicator(xf.Ind1), Ind2: indicator(xf.Ind2)}
			for _, sf := range xf.Subfields {
				f.Subfields = append(f.Subfields, Subfield{Code: sf.Code, Value: sf.Value})
			}
			rec.Fields = append(rec.Fields, f)
		}
	}
	return rec
}
