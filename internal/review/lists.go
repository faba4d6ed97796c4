package review

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
)

// WriteSierraList writes one bib number per line in the form the local
// system accepts for record list creation.
func WriteSierraList(w io.Writer, records []model.EnrichmentRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := bw.WriteString(ident.FormatBibNumber(r.LocalID) + "\n"); err != nil {
			return eris.Wrap(err, "review: write list")
		}
	}
	return eris.Wrap(bw.Flush(), "review: flush list")
}

var changedHeader = []string{"local_id", "bib_number", "report_id", "process_date", "ocn_process", "status", "external_id"}

// WriteChangedOutcomes writes outcomes whose authority identifier differs
// from the local one as CSV, with a header row.
func WriteChangedOutcomes(w io.Writer, outcomes []model.MatchOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(changedHeader); err != nil {
		return eris.Wrap(err, "review: write header")
	}
	for _, o := range outcomes {
		external := ""
		if o.ExternalID != nil {
			external = strconv.FormatInt(*o.ExternalID, 10)
		}
		err := cw.Write([]string{
			strconv.FormatInt(o.LocalID, 10),
			ident.FormatBibNumber(o.LocalID),
			strconv.FormatInt(o.ReportID, 10),
			o.ProcessDate.Format("2006-01-02"),
			strconv.FormatBool(o.IsOCNProcess),
			o.StatusID.String(),
			external,
		})
		if err != nil {
			return eris.Wrapf(err, "review: write outcome %d", o.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "review: flush outcomes")
}
