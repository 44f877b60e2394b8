// internal/gmail/types.go
package gmail

import "strings"

type MessageID string
type LabelID string

// InboxLabel is the system label removed when a message is moved out of the inbox.
const InboxLabel LabelID = "INBOX"

// Defaults used when a message lacks the corresponding header or date.
const (
	DefaultSubject = "(No Subject)"
	DefaultSender  = "(Unknown Sender)"
	DefaultDate    = "Unknown Date"
)

type Header struct {
	Name  string
	Value string
}

// MessageDetail is the subset of a message the deduplicator looks at.
type MessageDetail struct {
	ID           MessageID
	Subject      string
	Sender       string
	InternalDate string // epoch milliseconds as reported by Gmail
}

type Label struct {
	ID   LabelID
	Name string
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `in:all`)
}

// ListPage is one page of message ids plus the continuation token, if any.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// NewMessageDetail builds a MessageDetail from raw headers, applying the
// documented defaults. The first matching header wins.
func NewMessageDetail(id MessageID, headers []Header, internalDate string) MessageDetail {
	d := MessageDetail{
		ID:           id,
		Subject:      DefaultSubject,
		Sender:       DefaultSender,
		InternalDate: DefaultDate,
	}
	if v, ok := headerValue(headers, "Subject"); ok {
		d.Subject = v
	}
	if v, ok := headerValue(headers, "From"); ok {
		d.Sender = v
	}
	if strings.TrimSpace(internalDate) != "" {
		d.InternalDate = internalDate
	}
	return d
}

func headerValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
