package runtime

import (
	"context"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/joshsymonds/dupesweep/internal/sheets"
)

type sheetsClient struct{ svc *sheetsv4.Service }

func NewSheetsAPIClient(svc *sheetsv4.Service) *sheetsClient { return &sheetsClient{svc} }

// AppendRow appends a single row with RAW input so values are stored verbatim.
func (s *sheetsClient) AppendRow(ctx context.Context, spreadsheetID, sheetRange string, row sheets.Row) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row.Values()}}
	_, err := s.svc.Spreadsheets.Values.Append(spreadsheetID, sheetRange, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return remoteError("sheets", "values.append", err)
}

var _ sheets.Appender = (*sheetsClient)(nil)
