package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/dupesweep/internal/config"
	"github.com/joshsymonds/dupesweep/internal/gmail"
	"github.com/joshsymonds/dupesweep/internal/logging"
	"github.com/joshsymonds/dupesweep/internal/sheets"
)

type modifyCall struct {
	id  gmail.MessageID
	ops gmail.ModifyOps
}

type fakeClient struct {
	pages        []gmail.ListPage
	listTokens   []string
	listSizes    []int
	listErr      error
	details      map[gmail.MessageID]gmail.MessageDetail
	getErr       map[gmail.MessageID]error
	labels       []gmail.Label
	labelsErr    error
	created      []string
	labelCalls   int
	modified     []modifyCall
	modifyErr    error
	cancelOnList context.CancelFunc
}

func (f *fakeClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	_ = q
	f.listTokens = append(f.listTokens, pageToken)
	f.listSizes = append(f.listSizes, pageSize)
	if f.cancelOnList != nil {
		f.cancelOnList()
	}
	if f.listErr != nil {
		return gmail.ListPage{}, f.listErr
	}
	if len(f.pages) == 0 {
		return gmail.ListPage{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeClient) GetMessage(ctx context.Context, id gmail.MessageID) (gmail.MessageDetail, error) {
	_ = ctx
	if err := f.getErr[id]; err != nil {
		return gmail.MessageDetail{}, err
	}
	return f.details[id], nil
}

func (f *fakeClient) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	f.labelCalls++
	if f.labelsErr != nil {
		return nil, f.labelsErr
	}
	return f.labels, nil
}

func (f *fakeClient) CreateLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	f.created = append(f.created, name)
	id := gmail.LabelID("Label_new")
	f.labels = append(f.labels, gmail.Label{ID: id, Name: name})
	return id, nil
}

func (f *fakeClient) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.modified = append(f.modified, modifyCall{id: id, ops: ops})
	return f.modifyErr
}

type appendCall struct {
	spreadsheetID string
	sheetRange    string
	row           sheets.Row
}

type fakeSheet struct {
	calls []appendCall
	err   error
}

func (f *fakeSheet) AppendRow(ctx context.Context, spreadsheetID, sheetRange string, row sheets.Row) error {
	_ = ctx
	f.calls = append(f.calls, appendCall{spreadsheetID: spreadsheetID, sheetRange: sheetRange, row: row})
	return f.err
}

func (f *fakeSheet) rows() []sheets.Row {
	out := make([]sheets.Row, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.row)
	}
	return out
}

type countingLimiter struct{ n int }

func (c *countingLimiter) Wait(ctx context.Context) error {
	_ = ctx
	c.n++
	return nil
}

func detail(id, subject, sender, date string) gmail.MessageDetail {
	return gmail.MessageDetail{ID: gmail.MessageID(id), Subject: subject, Sender: sender, InternalDate: date}
}

// mailbox holds A and B with identical fingerprints and a distinct C.
func mailbox() *fakeClient {
	return &fakeClient{
		pages: []gmail.ListPage{{IDs: []gmail.MessageID{"A", "B", "C"}}},
		details: map[gmail.MessageID]gmail.MessageDetail{
			"A": detail("A", "X", "a@x.com", "100"),
			"B": detail("B", "X", "a@x.com", "100"),
			"C": detail("C", "Y", "a@x.com", "100"),
		},
		labels: []gmail.Label{{ID: "INBOX", Name: "INBOX"}, {ID: "Label_9", Name: "Duplicates"}},
	}
}

func newTestService(client gmail.Client, sheet sheets.Appender) *Service {
	svc := NewService(client, sheet, nil, logging.Discard())
	svc.Pause = nil
	svc.Clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	svc.RunID = "run-test"
	return svc
}

func liveSpec() Spec {
	return Spec{SpreadsheetID: "sheet-1"}
}

func TestRunMovesAndLogsDuplicates(t *testing.T) {
	client := mailbox()
	sheet := &fakeSheet{}

	rep, err := newTestService(client, sheet).Run(context.Background(), liveSpec())
	require.NoError(t, err)

	require.Len(t, client.modified, 1)
	assert.Equal(t, gmail.MessageID("B"), client.modified[0].id)
	assert.Equal(t, []gmail.LabelID{"Label_9"}, client.modified[0].ops.AddLabels)
	assert.Equal(t, []gmail.LabelID{gmail.InboxLabel}, client.modified[0].ops.RemoveLabels)

	require.Len(t, sheet.calls, 1)
	assert.Equal(t, "sheet-1", sheet.calls[0].spreadsheetID)
	assert.Equal(t, sheets.DefaultRange, sheet.calls[0].sheetRange)
	assert.Equal(t, sheets.Row{"X", "a@x.com", "100", "B"}, sheet.calls[0].row)

	assert.Empty(t, client.created)
	assert.Equal(t, "run-test", rep.RunID)
	assert.Equal(t, config.DefaultQuery, rep.Query)
	assert.Equal(t, 1, rep.Pages)
	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 2, rep.Unique)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Equal(t, 1, rep.Moved)
	assert.Equal(t, 1, rep.Logged)
	assert.Zero(t, rep.Failures)
	require.Len(t, rep.TopSenders, 1)
	assert.Equal(t, "x.com", rep.TopSenders[0].Domain)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rep.GeneratedAt)
}

func TestRunDryRunNeverMoves(t *testing.T) {
	live := &fakeSheet{}
	_, err := newTestService(mailbox(), live).Run(context.Background(), liveSpec())
	require.NoError(t, err)

	client := mailbox()
	client.labels = nil
	dry := &fakeSheet{}
	spec := liveSpec()
	spec.DryRun = true

	rep, err := newTestService(client, dry).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Empty(t, client.modified)
	assert.Equal(t, live.rows(), dry.rows())
	assert.Equal(t, []string{config.DefaultLabelName}, client.created)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Zero(t, rep.Moved)
	assert.Equal(t, 1, rep.Logged)
}

func TestRunCreatesMissingLabel(t *testing.T) {
	client := mailbox()
	client.labels = []gmail.Label{{ID: "INBOX", Name: "INBOX"}}
	spec := liveSpec()
	spec.LabelName = "Dupes"

	_, err := newTestService(client, &fakeSheet{}).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"Dupes"}, client.created)
	require.Len(t, client.modified, 1)
	assert.Equal(t, []gmail.LabelID{"Label_new"}, client.modified[0].ops.AddLabels)
}

func TestRunPaginates(t *testing.T) {
	client := &fakeClient{
		pages: []gmail.ListPage{
			{IDs: []gmail.MessageID{"A"}, NextPageToken: "p2"},
			{IDs: []gmail.MessageID{"B"}, NextPageToken: "p3"},
			{IDs: []gmail.MessageID{"C"}},
		},
		details: map[gmail.MessageID]gmail.MessageDetail{
			"A": detail("A", "X", "a@x.com", "100"),
			"B": detail("B", "X", "a@x.com", "100"),
			"C": detail("C", "X", "a@x.com", "100"),
		},
		labels: []gmail.Label{{ID: "Label_9", Name: "Duplicates"}},
	}
	sheet := &fakeSheet{}
	spec := liveSpec()
	spec.PageSize = 50

	rep, err := newTestService(client, sheet).Run(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "p2", "p3"}, client.listTokens)
	assert.Equal(t, []int{50, 50, 50}, client.listSizes)
	assert.Equal(t, 3, rep.Pages)
	assert.Equal(t, 2, rep.Duplicates)
	require.Len(t, client.modified, 2)
	assert.Equal(t, gmail.MessageID("B"), client.modified[0].id)
	assert.Equal(t, gmail.MessageID("C"), client.modified[1].id)
}

func TestRunStopsOnEmptyPage(t *testing.T) {
	client := &fakeClient{
		pages: []gmail.ListPage{
			{NextPageToken: "never-followed"},
			{IDs: []gmail.MessageID{"A"}},
		},
	}

	rep, err := newTestService(client, &fakeSheet{}).Run(context.Background(), liveSpec())
	require.NoError(t, err)

	assert.Len(t, client.listTokens, 1)
	assert.Zero(t, rep.Scanned)
}

func TestRunClampsPageSize(t *testing.T) {
	client := &fakeClient{}
	spec := liveSpec()
	spec.PageSize = 10000

	_, err := newTestService(client, &fakeSheet{}).Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, []int{config.MaxPageSize}, client.listSizes)
}

func TestRunRequiresSpreadsheet(t *testing.T) {
	client := mailbox()
	sheet := &fakeSheet{}

	_, err := newTestService(client, sheet).Run(context.Background(), Spec{})
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, client.labelCalls)
	assert.Empty(t, client.listTokens)
	assert.Empty(t, sheet.calls)
}

func TestRunLabelFailure(t *testing.T) {
	boom := errors.New("labels unavailable")

	t.Run("live aborts", func(t *testing.T) {
		client := mailbox()
		client.labelsErr = boom
		sheet := &fakeSheet{}

		rep, err := newTestService(client, sheet).Run(context.Background(), liveSpec())
		require.ErrorIs(t, err, boom)
		assert.Empty(t, client.listTokens)
		assert.Empty(t, sheet.calls)
		assert.Equal(t, 1, rep.Failures)
	})

	t.Run("dry-run continues", func(t *testing.T) {
		client := mailbox()
		client.labelsErr = boom
		sheet := &fakeSheet{}
		spec := liveSpec()
		spec.DryRun = true

		rep, err := newTestService(client, sheet).Run(context.Background(), spec)
		require.NoError(t, err)
		assert.Empty(t, client.modified)
		assert.Len(t, sheet.calls, 1)
		assert.Equal(t, 1, rep.Failures)
	})
}

func TestRunSideEffectsAreIndependent(t *testing.T) {
	t.Run("append failure still moves", func(t *testing.T) {
		client := mailbox()
		sheet := &fakeSheet{err: errors.New("quota")}

		rep, err := newTestService(client, sheet).Run(context.Background(), liveSpec())
		require.NoError(t, err)
		assert.Len(t, client.modified, 1)
		assert.Equal(t, 1, rep.Moved)
		assert.Zero(t, rep.Logged)
		assert.Equal(t, 1, rep.Failures)
	})

	t.Run("move failure still logs", func(t *testing.T) {
		client := mailbox()
		client.modifyErr = errors.New("forbidden")
		sheet := &fakeSheet{}

		rep, err := newTestService(client, sheet).Run(context.Background(), liveSpec())
		require.NoError(t, err)
		assert.Len(t, sheet.calls, 1)
		assert.Zero(t, rep.Moved)
		assert.Equal(t, 1, rep.Logged)
		assert.Equal(t, 1, rep.Failures)
	})
}

func TestRunSkipsUnreadableMessage(t *testing.T) {
	client := mailbox()
	client.getErr = map[gmail.MessageID]error{"A": errors.New("gone")}
	sheet := &fakeSheet{}

	rep, err := newTestService(client, sheet).Run(context.Background(), liveSpec())
	require.NoError(t, err)

	// B becomes the first of its fingerprint once A is skipped.
	assert.Empty(t, client.modified)
	assert.Empty(t, sheet.calls)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Failures)
}

func TestRunListFailureAborts(t *testing.T) {
	boom := errors.New("backend error")
	client := mailbox()
	client.listErr = boom

	rep, err := newTestService(client, &fakeSheet{}).Run(context.Background(), liveSpec())
	require.ErrorIs(t, err, boom)
	assert.Len(t, client.listTokens, 1)
	assert.Zero(t, rep.Pages)
	assert.Equal(t, 1, rep.Failures)
}

func TestRunPausesAfterEachDuplicate(t *testing.T) {
	pause := &countingLimiter{}
	svc := newTestService(mailbox(), &fakeSheet{})
	svc.Pause = pause

	_, err := svc.Run(context.Background(), liveSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, pause.n)
}

func TestRunLimiterGatesEveryCall(t *testing.T) {
	limiter := &countingLimiter{}
	svc := newTestService(mailbox(), &fakeSheet{})
	svc.Limiter = limiter

	_, err := svc.Run(context.Background(), liveSpec())
	require.NoError(t, err)
	// labels, list, three gets, one modify, one append.
	assert.Equal(t, 7, limiter.n)
}

func TestRunStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := mailbox()
	client.cancelOnList = cancel
	svc := newTestService(client, &fakeSheet{})
	svc.Limiter = ctxLimiter{}

	_, err := svc.Run(ctx, liveSpec())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.modified)
}

type ctxLimiter struct{}

func (ctxLimiter) Wait(ctx context.Context) error { return ctx.Err() }

func TestSpecFromConfig(t *testing.T) {
	_, err := SpecFromConfig(nil)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = SpecFromConfig(&config.Config{})
	require.ErrorAs(t, err, &cfgErr)

	spec, err := SpecFromConfig(&config.Config{SpreadsheetID: "abc", Testing: true, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, Spec{
		Query:         config.DefaultQuery,
		LabelName:     config.DefaultLabelName,
		SpreadsheetID: "abc",
		SheetRange:    config.DefaultSheetRange,
		PageSize:      20,
		DryRun:        true,
	}, spec)
}

func TestFingerprintOf(t *testing.T) {
	a := detail("A", "X", "a@x.com", "100")
	b := detail("B", "X", "a@x.com", "100")
	assert.Equal(t, Fingerprint("X-a@x.com-100"), FingerprintOf(a))
	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))

	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(detail("A", "X", "a@x.com", "101")))

	missing := gmail.NewMessageDetail("M", nil, "")
	assert.Equal(t, Fingerprint("(No Subject)-(Unknown Sender)-Unknown Date"), FingerprintOf(missing))

	// Fields are joined without escaping.
	assert.Equal(t,
		FingerprintOf(detail("1", "a-b", "c", "1")),
		FingerprintOf(detail("2", "a", "b-c", "1")),
	)
}

func TestRowFor(t *testing.T) {
	assert.Equal(t, sheets.Row{"X", "a@x.com", "100", "B"}, RowFor(detail("B", "X", "a@x.com", "100")))
}
