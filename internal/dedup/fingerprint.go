package dedup

import (
	"strings"

	"github.com/joshsymonds/dupesweep/internal/gmail"
	"github.com/joshsymonds/dupesweep/internal/sheets"
)

const fingerprintSeparator = "-"

// Fingerprint is the duplicate-detection key. Messages that agree on subject,
// sender and internal date share a fingerprint even if their bodies differ,
// and distinct fields can collide across the separator; both are accepted.
type Fingerprint string

// FingerprintOf joins subject, sender and internal date.
func FingerprintOf(d gmail.MessageDetail) Fingerprint {
	return Fingerprint(strings.Join([]string{d.Subject, d.Sender, d.InternalDate}, fingerprintSeparator))
}

// RowFor is the spreadsheet record logged for a duplicate.
func RowFor(d gmail.MessageDetail) sheets.Row {
	return sheets.Row{d.Subject, d.Sender, d.InternalDate, string(d.ID)}
}
