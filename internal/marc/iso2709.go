package marc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

const (
	subfieldDelimiter = 0x1F
	fieldTerminator   = 0x1E
	recordTerminator  = 0x1D

	leaderLen     = 24
	dirEntryLen   = 12
	defaultLeader = "00000nam a2200000 a 4500"
)

// Marshal encodes a record in ISO 2709 transmission format. Record length
// and base address in the leader are recomputed.
func Marshal(r *Record) ([]byte, error) {
	var dir, data bytes.Buffer
	for _, f := range r.Fields {
		if len(f.Tag) != 3 {
			return nil, eris.Errorf("marc: invalid tag %q", f.Tag)
		}
		start := data.Len()
		if f.IsControl() {
			data.WriteString(f.Value)
		} else {
			data.WriteString(indicator(f.Ind1))
			data.WriteString(indicator(f.Ind2))
			for _, sf := range f.Subfields {
				data.WriteByte(subfieldDelimiter)
				data.WriteString(sf.Code)
				data.WriteString(sf.Value)
			}
		}
		data.WriteByte(fieldTerminator)

		length := data.Len() - start
		if length > 9999 || start > 99999 {
			return nil, eris.Errorf("marc: field %s exceeds ISO 2709 limits", f.Tag)
		}
		fmt.Fprintf(&dir, "%s%04d%05d", f.Tag, length, start)
	}
	dir.WriteByte(fieldTerminator)

	base := leaderLen + dir.Len()
	total := base + data.Len() + 1
	if total > 99999 {
		return nil, eris.Errorf("marc: record length %d exceeds ISO 2709 limit", total)
	}

	leader := []byte(defaultLeader)
	if len(r.Leader) == leaderLen {
		leader = []byte(r.Leader)
	}
	copy(leader[0:5], fmt.Sprintf("%05d", total))
	copy(leader[10:12], "22")
	copy(leader[12:17], fmt.Sprintf("%05d", base))
	copy(leader[20:24], "4500")

	out := make([]byte, 0, total)
	out = append(out, leader...)
	out = append(out, dir.Bytes()...)
	out = append(out, data.Bytes()...)
	out = append(out, recordTerminator)
	return out, nil
}

func indicator(s string) string {
	if len(s) != 1 {
		return " "
	}
	return s
}

// Unmarshal decodes one ISO 2709 record. The trailing record terminator is optional.
func Unmarshal(raw []byte) (*Record, error) {
	raw = bytes.TrimSuffix(raw, []byte{recordTerminator})
	if len(raw) < leaderLen+1 {
		return nil, eris.Errorf("marc: record too short (%d bytes)", len(raw))
	}
	leader := string(raw[:leaderLen])
	base, ok := parseDigits(raw[12:17])
	if !ok || base <= leaderLen || base > len(raw) {
		return nil, eris.Errorf("marc: invalid base address %q", leader[12:17])
	}

	dir := raw[leaderLen : base-1]
	if len(dir)%dirEntryLen != 0 {
		return nil, eris.Errorf("marc: directory length %d is not a multiple of %d", len(dir), dirEntryLen)
	}
	data := raw[base:]

	rec := &Record{Leader: leader}
	for i := 0; i < len(dir); i += dirEntryLen {
		entry := dir[i : i+dirEntryLen]
		tag := string(entry[:3])
		length, ok1 := parseDigits(entry[3:7])
		start, ok2 := parseDigits(entry[7:12])
		if !ok1 || !ok2 || length < 1 || start+length > len(data) {
			return nil, eris.Errorf("marc: invalid directory entry %q", entry)
		}
		body := data[start : start+length-1]

		f := Field{Tag: tag}
		if f.IsControl() {
			f.Value = string(body)
		} else {
			if len(body) < 2 {
				return nil, eris.Errorf("marc: field %s missing indicators", tag)
			}
			f.Ind1, f.Ind2 = string(body[0]), string(body[1])
			for _, chunk := range bytes.Split(body[2:], []byte{subfieldDelimiter}) {
				if len(chunk) == 0 {
					continue
				}
				f.Subfields = append(f.Subfields, Subfield{Code: string(chunk[0]), Value: string(chunk[1:])})
			}
		}
		rec.Fields = append(rec.Fields, f)
	}
	return rec, nil
}

// parseDigits parses a fixed-width unsigned decimal field. Signs and spaces are rejected.
func parseDigits(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// Reader streams ISO 2709 records from an export file.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF when the stream is exhausted.
func (r *Reader) Next() (*Record, error) {
	chunk, err := r.br.ReadBytes(recordTerminator)
	if err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "marc: read record")
	}
	if len(bytes.TrimSpace(chunk)) == 0 {
		return nil, io.EOF
	}
	return Unmarshal(bytes.TrimLeft(chunk, "\r\n"))
}

// Writer is an append-only ISO 2709 sink.
type Writer struct {
	w       io.Writer
	closer  io.Closer
	written int
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenWriter opens path for appending, creating it if needed.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "marc: open %s", path)
	}
	return &Writer{w: f, closer: f}, nil
}

// Write appends one record.
func (w *Writer) Write(r *Record) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return eris.Wrap(err, "marc: write record")
	}
	w.written++
	return nil
}

// Written returns the number of records written.
func (w *Writer) Written() int {
	return w.written
}

// Close closes the underlying file when the Writer owns it.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
