// internal/runtime/googleapi.go: adapts *gmail.Service to the gmail.Client interface
package runtime

import (
	"context"
	"strconv"

	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/dupesweep/internal/gmail"
)

const gmailUser = "me"

type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) *googleClient { return &googleClient{svc} }

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(gmailUser).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, remoteError("gmail", "messages.list", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.IDs = append(page.IDs, gc.MessageID(m.Id))
	}
	return page, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID) (gc.MessageDetail, error) {
	msg, err := g.svc.Users.Messages.Get(gmailUser, string(id)).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		return gc.MessageDetail{}, remoteError("gmail", "messages.get", err)
	}
	var headers []gc.Header
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			headers = append(headers, gc.Header{Name: h.Name, Value: h.Value})
		}
	}
	date := ""
	if msg.InternalDate != 0 {
		date = strconv.FormatInt(msg.InternalDate, 10)
	}
	msgID := id
	if msg.Id != "" {
		msgID = gc.MessageID(msg.Id)
	}
	return gc.NewMessageDetail(msgID, headers, date), nil
}

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	lr, err := g.svc.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, remoteError("gmail", "labels.list", err)
	}
	labels := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		labels = append(labels, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name})
	}
	return labels, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string) (gc.LabelID, error) {
	created, err := g.svc.Users.Labels.Create(gmailUser, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", remoteError("gmail", "labels.create", err)
	}
	return gc.LabelID(created.Id), nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gmail.ModifyMessageRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = toStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = toStrings(ops.RemoveLabels)
	}
	_, err := g.svc.Users.Messages.Modify(gmailUser, string(id), req).Context(ctx).Do()
	return remoteError("gmail", "messages.modify", err)
}

func toStrings(ids []gc.LabelID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var _ gc.Client = (*googleClient)(nil)
