package gmail

import (
	"context"
	"fmt"
	"strings"
)

// Client is the narrow Gmail surface required by dupesweep.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID) (MessageDetail, error)
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (LabelID, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
}

// ResolveLabel returns the id of the label called name (compared
// case-insensitively), creating it when no such label exists.
func ResolveLabel(ctx context.Context, c Client, name string) (LabelID, error) {
	labels, err := c.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.ID, nil
		}
	}
	id, err := c.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	return id, nil
}
