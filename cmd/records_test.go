package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/shp-enrich/internal/model"
)

func TestFormatStatus(t *testing.T) {
	var buf bytes.Buffer
	formatStatus(&buf,
		map[model.Status]int64{model.StatusPending: 7, model.StatusEnriched: 3},
		map[model.OutcomeCategory]int64{model.OutcomeMatch: 5, model.OutcomeDataError: 1},
	)

	output := buf.String()
	assert.Contains(t, output, "RECORDS")
	assert.Contains(t, output, "OUTCOMES")
	assert.Regexp(t, `pending\s+7`, output)
	assert.Regexp(t, `enriched\s+3`, output)
	assert.Regexp(t, `match\s+5`, output)
	assert.Regexp(t, `data_error\s+1`, output)
	assert.Regexp(t, `processing_error\s+0`, output)
}

func TestFormatDuplicates(t *testing.T) {
	var buf bytes.Buffer
	formatDuplicates(&buf, map[int64][]int64{
		909: {33333333, 44444444},
		101: {11111111, 22222222},
	})

	output := buf.String()
	assert.Contains(t, output, "OCN")
	assert.Contains(t, output, "b11111111a,b22222222a")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("101")), bytes.Index(buf.Bytes(), []byte("909")))
}
