// internal/dedup/service.go
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/dupesweep/internal/config"
	"github.com/joshsymonds/dupesweep/internal/gmail"
	"github.com/joshsymonds/dupesweep/internal/logging"
	"github.com/joshsymonds/dupesweep/internal/rate"
	"github.com/joshsymonds/dupesweep/internal/report"
	"github.com/joshsymonds/dupesweep/internal/sheets"
)

// DuplicateDelay is the pause after each duplicate, to stay under the Gmail
// and Sheets per-user quotas.
const DuplicateDelay = 10 * time.Millisecond

const defaultTopN = 10

type Spec struct {
	Query         string
	LabelName     string
	SpreadsheetID string
	SheetRange    string
	PageSize      int
	DryRun        bool // resolve the label and log rows, but never move messages
}

// SpecFromConfig validates cfg and fills in defaults.
func SpecFromConfig(cfg *config.Config) (Spec, error) {
	if err := cfg.Validate(); err != nil {
		return Spec{}, err
	}
	c := cfg.WithDefaults()
	return Spec{
		Query:         c.Query,
		LabelName:     c.LabelName,
		SpreadsheetID: c.SpreadsheetID,
		SheetRange:    c.SheetRange,
		PageSize:      c.PageSize,
		DryRun:        c.Testing,
	}, nil
}

func (s Spec) withDefaults() Spec {
	if s.Query == "" {
		s.Query = config.DefaultQuery
	}
	if s.LabelName == "" {
		s.LabelName = config.DefaultLabelName
	}
	if s.SheetRange == "" {
		s.SheetRange = sheets.DefaultRange
	}
	if s.PageSize <= 0 || s.PageSize > config.MaxPageSize {
		s.PageSize = config.MaxPageSize
	}
	return s
}

type Service struct {
	Client  gmail.Client
	Sheets  sheets.Appender
	Limiter rate.Limiter // optional; gates every remote call
	Pause   rate.Limiter // applied after each duplicate
	Log     *slog.Logger
	Clock   func() time.Time
	RunID   string
	TopN    int
}

// NewService constructs a Service with the standard post-duplicate delay.
func NewService(client gmail.Client, appender sheets.Appender, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Service{
		Client:  client,
		Sheets:  appender,
		Limiter: limiter,
		Pause:   rate.NewDelay(DuplicateDelay),
		Log:     logger,
		Clock:   time.Now,
		TopN:    defaultTopN,
	}
}

// Run scans the mailbox once. Each message whose fingerprint was already
// seen is moved to the holding label (unless DryRun) and logged to the
// spreadsheet. Failures on single messages are logged and skipped; a failed
// listing ends the scan.
func (s *Service) Run(ctx context.Context, spec Spec) (report.Report, error) {
	spec = spec.withDefaults()
	rep := report.Report{RunID: s.RunID, DryRun: spec.DryRun, Query: spec.Query}
	var senders report.SenderCounter
	logger := s.Log.With(slog.Bool("dry_run", spec.DryRun))

	if strings.TrimSpace(spec.SpreadsheetID) == "" {
		logger.Error("spreadsheet id not found in configuration")
		return s.finish(rep, &senders), &config.ConfigError{Reason: "spreadsheet_id is required"}
	}

	label, err := s.resolveLabel(ctx, spec.LabelName)
	if err != nil {
		if ctx.Err() != nil {
			return s.finish(rep, &senders), err
		}
		rep.Failures++
		if !spec.DryRun {
			logger.Error("error creating or finding the label", slog.String("label", spec.LabelName), logging.Err(err))
			return s.finish(rep, &senders), err
		}
		logger.Warn("label unavailable; continuing without it", slog.String("label", spec.LabelName), logging.Err(err))
	}

	logger.Info("scanning mailbox", slog.String("query", spec.Query), slog.String("label", spec.LabelName))
	q := gmail.Query{Raw: spec.Query}
	seen := make(map[Fingerprint]struct{})
	token := ""
	for {
		page, err := s.listMessages(ctx, q, token, spec.PageSize)
		if err != nil {
			rep.Failures++
			logger.Error("listing messages failed; stopping scan", slog.Int("page", rep.Pages+1), logging.Err(err))
			return s.finish(rep, &senders), err
		}
		rep.Pages++
		if len(page.IDs) == 0 {
			break
		}

		for _, id := range page.IDs {
			detail, err := s.getMessage(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return s.finish(rep, &senders), err
				}
				rep.Failures++
				logger.Warn("fetch message failed; skipping", logging.MessageID(string(id)), logging.Err(err))
				continue
			}
			rep.Scanned++

			fp := FingerprintOf(detail)
			if _, dup := seen[fp]; !dup {
				seen[fp] = struct{}{}
				rep.Unique++
				continue
			}

			rep.Duplicates++
			senders.Add(detail.Sender, detail.Subject)
			if err := s.handleDuplicate(ctx, logger, spec, label, detail, &rep); err != nil {
				return s.finish(rep, &senders), err
			}
			if s.Pause != nil {
				if err := s.Pause.Wait(ctx); err != nil {
					return s.finish(rep, &senders), err
				}
			}
		}

		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	logger.Info("scan complete",
		slog.Int("pages", rep.Pages),
		slog.Int("scanned", rep.Scanned),
		slog.Int("duplicates", rep.Duplicates),
		slog.Int("moved", rep.Moved),
		slog.Int("logged", rep.Logged),
		slog.Int("failures", rep.Failures),
	)
	return s.finish(rep, &senders), nil
}

// handleDuplicate moves and logs one duplicate. The two side effects are
// independent: either may fail without affecting the other. Only context
// cancellation is returned.
func (s *Service) handleDuplicate(
	ctx context.Context,
	logger *slog.Logger,
	spec Spec,
	label gmail.LabelID,
	detail gmail.MessageDetail,
	rep *report.Report,
) error {
	msgAttr := logging.MessageID(string(detail.ID))
	logger.Info("duplicate found", msgAttr, slog.String("subject", detail.Subject))

	if spec.DryRun {
		logger.Info("dry-run: skipping move", msgAttr)
	} else {
		if err := s.wait(ctx, "rate limit modify"); err != nil {
			return err
		}
		ops := gmail.ModifyOps{
			AddLabels:    []gmail.LabelID{label},
			RemoveLabels: []gmail.LabelID{gmail.InboxLabel},
		}
		if err := s.Client.Modify(ctx, detail.ID, ops); err != nil {
			rep.Failures++
			logger.Warn("error moving message", msgAttr, logging.Err(err))
		} else {
			rep.Moved++
			logger.Debug("moved message to label", msgAttr, slog.String("label", spec.LabelName))
		}
	}

	if err := s.wait(ctx, "rate limit append"); err != nil {
		return err
	}
	if err := s.Sheets.AppendRow(ctx, spec.SpreadsheetID, spec.SheetRange, RowFor(detail)); err != nil {
		rep.Failures++
		logger.Warn("error logging to sheet", msgAttr, logging.Err(err))
	} else {
		rep.Logged++
	}
	return nil
}

func (s *Service) resolveLabel(ctx context.Context, name string) (gmail.LabelID, error) {
	if err := s.wait(ctx, "rate limit labels"); err != nil {
		return "", err
	}
	id, err := gmail.ResolveLabel(ctx, s.Client, name)
	if err != nil {
		return "", fmt.Errorf("resolve label: %w", err)
	}
	return id, nil
}

func (s *Service) listMessages(
	ctx context.Context,
	query gmail.Query,
	pageToken string,
	pageSize int,
) (gmail.ListPage, error) {
	if err := s.wait(ctx, "rate limit messages"); err != nil {
		return gmail.ListPage{}, err
	}
	page, err := s.Client.List(ctx, query, pageToken, pageSize)
	if err != nil {
		return gmail.ListPage{}, fmt.Errorf("list messages: %w", err)
	}
	return page, nil
}

func (s *Service) getMessage(ctx context.Context, id gmail.MessageID) (gmail.MessageDetail, error) {
	if err := s.wait(ctx, "rate limit message"); err != nil {
		return gmail.MessageDetail{}, err
	}
	detail, err := s.Client.GetMessage(ctx, id)
	if err != nil {
		return gmail.MessageDetail{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return detail, nil
}

func (s *Service) wait(ctx context.Context, operation string) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (s *Service) finish(rep report.Report, senders *report.SenderCounter) report.Report {
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	rep.GeneratedAt = clock()
	rep.TopSenders = senders.Top(s.TopN)
	return rep
}
