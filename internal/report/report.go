package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const previewSubjectDisplayLimit = 60

// Report summarizes one deduplication run.
type Report struct {
	RunID       string       `json:"run_id"`
	GeneratedAt time.Time    `json:"generated_at"`
	DryRun      bool         `json:"dry_run"`
	Query       string       `json:"query"`
	Pages       int          `json:"pages"`
	Scanned     int          `json:"scanned"`
	Unique      int          `json:"unique"`
	Duplicates  int          `json:"duplicates"`
	Moved       int          `json:"moved"`
	Logged      int          `json:"logged"`
	Failures    int          `json:"failures"`
	TopSenders  []SenderStat `json:"top_senders"`
}

// SenderStat ranks the sender domains that produced the most duplicates.
type SenderStat struct {
	Domain         string `json:"domain"`
	Count          int    `json:"count"`
	PreviewSubject string `json:"preview_subject"`
}

// SenderCounter tallies duplicates per sender domain.
type SenderCounter struct {
	stats map[string]*SenderStat
}

// Add records one duplicate from the given From header.
func (c *SenderCounter) Add(from, subject string) {
	domain := domainOf(from)
	if domain == "" {
		return
	}
	if c.stats == nil {
		c.stats = map[string]*SenderStat{}
	}
	st := c.stats[domain]
	if st == nil {
		st = &SenderStat{Domain: domain}
		c.stats[domain] = st
	}
	st.Count++
	if st.PreviewSubject == "" {
		st.PreviewSubject = subject
	}
}

// Top returns the topN domains by count, ties broken alphabetically.
func (c *SenderCounter) Top(topN int) []SenderStat {
	slice := make([]SenderStat, 0, len(c.stats))
	for _, st := range c.stats {
		slice = append(slice, *st)
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].Count == slice[j].Count {
			return slice[i].Domain < slice[j].Domain
		}
		return slice[i].Count > slice[j].Count
	})
	if topN >= 0 && topN < len(slice) {
		slice = slice[:topN]
	}
	return slice
}

// PrintHuman writes a readable report to the provided writer.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	mode := "live"
	if rep.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(&builder, "dupesweep %s — query %q (%d pages, %d messages)\n", mode, rep.Query, rep.Pages, rep.Scanned)
	fmt.Fprintf(&builder, "  unique:     %d\n", rep.Unique)
	fmt.Fprintf(&builder, "  duplicates: %d\n", rep.Duplicates)
	fmt.Fprintf(&builder, "  moved:      %d\n", rep.Moved)
	fmt.Fprintf(&builder, "  logged:     %d\n", rep.Logged)
	if rep.Failures > 0 {
		fmt.Fprintf(&builder, "  failures:   %d\n", rep.Failures)
	}
	if len(rep.TopSenders) > 0 {
		builder.WriteString("\nTop duplicate senders:\n")
		for _, s := range rep.TopSenders {
			fmt.Fprintf(
				&builder,
				"  %-30s %4d %s\n",
				s.Domain,
				s.Count,
				truncate(s.PreviewSubject, previewSubjectDisplayLimit),
			)
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to disk.
func WriteJSON(rep Report, path string) error {
	abs, err := resolveOutput(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}

// resolveOutput confines report output to the working directory.
func resolveOutput(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return filepath.Join(wd, clean), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
