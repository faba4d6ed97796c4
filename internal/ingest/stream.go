// Package ingest loads the delimited and MARC files produced by the
// authority and the local system into the store.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Delimiters used by the files this package reads.
const (
	DelimComma = ','
	DelimPipe  = '|'
	DelimCaret = '^'
)

// StreamOptions configures the streaming row parser.
type StreamOptions struct {
	Delimiter rune // default ','
	HasHeader bool // skip the first row
	TrimSpace bool
}

// Row is one parsed line with its 1-based line number.
type Row struct {
	Line   int
	Fields []string
}

// StreamDelimited reads r and sends rows to a channel. The caller must
// drain the row channel; a read error is sent on the error channel. Both
// channels are closed when processing completes.
func StreamDelimited(ctx context.Context, r io.Reader, opts StreamOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.FieldsPerRecord = -1
		// Titles in authority reports carry stray quote characters.
		reader.LazyQuotes = true

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read row")
				return
			}
			line, _ := reader.FieldPos(0)

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if first && opts.HasHeader {
				first = false
				continue
			}
			first = false

			select {
			case rowCh <- Row{Line: line, Fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
