package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dupesweep"

// WriteMetrics writes the run counters as a Prometheus textfile-collector
// file so node_exporter can pick them up between runs.
func WriteMetrics(rep Report, path string) error {
	abs, err := resolveOutput(path)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	gauges := []struct {
		name  string
		help  string
		value float64
	}{
		{"messages_scanned", "Messages fetched during the last run.", float64(rep.Scanned)},
		{"duplicates_found", "Duplicate messages detected during the last run.", float64(rep.Duplicates)},
		{"duplicates_moved", "Duplicates moved to the holding label during the last run.", float64(rep.Moved)},
		{"rows_appended", "Rows appended to the duplicate log during the last run.", float64(rep.Logged)},
		{"remote_failures", "Gmail or Sheets calls that failed during the last run.", float64(rep.Failures)},
		{"last_run_timestamp_seconds", "Unix time the last run finished.", float64(rep.GeneratedAt.Unix())},
	}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      g.name,
			Help:      g.help,
		})
		gauge.Set(g.value)
		if err := reg.Register(gauge); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	if err := prometheus.WriteToTextfile(abs, reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", abs, err)
	}
	return nil
}
