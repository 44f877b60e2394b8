package sheets

import "context"

// DefaultRange is where duplicate rows are appended when no range is configured.
const DefaultRange = "Sheet1!A1"

// Row is one duplicate record: subject, sender, internal date, message id.
type Row [4]string

// Values converts the row into the cell layout expected by the Sheets API.
func (r Row) Values() []interface{} {
	out := make([]interface{}, len(r))
	for i, v := range r {
		out[i] = v
	}
	return out
}

// Appender appends rows to a spreadsheet.
type Appender interface {
	AppendRow(ctx context.Context, spreadsheetID, sheetRange string, row Row) error
}
